package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/stats"
)

// writeSeparatePin writes a tabular input that looks like two separate
// searches: every target shares its spectrum with a decoy. The classes
// overlap enough that the separation stays plausible.
func writeSeparatePin(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\tExpMass\tCalcMass\txcorr\tdeltaCn\tPeptide\tProteins\n")
	for i := 0; i < n; i++ {
		mass := 500.0 + float64(i)
		noise := float64((i*13)%7) / 7.0
		fmt.Fprintf(&b, "target_%d\t1\t%d\t%.4f\t%.4f\t%.4f\t%.4f\tK.TPEP%dK.R\tprot_%d\n",
			i, i+1, mass, mass-0.01, 2.0+0.05*float64(i), noise, i, i%10)
		fmt.Fprintf(&b, "decoy_%d\t-1\t%d\t%.4f\t%.4f\t%.4f\t%.4f\tK.DPEP%dK.R\trandom_prot_%d\n",
			i, i+1, mass, mass+0.01, 1.5+0.05*float64(i), noise, i, i%10)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}
}

func baseParams(input, dir string) Params {
	return Params{
		InputPath:              input,
		InputSearchType:        "auto",
		SelectionFdr:           0.01,
		TestFdr:                0.01,
		NumIterations:          2,
		Seed:                   1,
		Verbosity:              0,
		ReportUniquePeptides:   true,
		PsmResultPath:          filepath.Join(dir, "psms.tsv"),
		DecoyPsmResultPath:     filepath.Join(dir, "psms_decoy.tsv"),
		PeptideResultPath:      filepath.Join(dir, "peptides.tsv"),
		DecoyPeptideResultPath: filepath.Join(dir, "peptides_decoy.tsv"),
		XMLPrintExpMass:        true,
		Call:                   "percolator test",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRunSeparateSearch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")
	writeSeparatePin(t, input, 100)

	p := baseParams(input, dir)
	p.WeightOutputPath = filepath.Join(dir, "weights.tsv")
	p.XMLOutputPath = filepath.Join(dir, "pout.xml")
	if err := Run(p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := readLines(t, p.PsmResultPath)
	if lines[0] != "PSMId\tscore\tq-value\tposterior_error_prob\tpeptide\tproteinIds" {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 101 {
		t.Fatalf("target PSM output has %d rows, want 100", len(lines)-1)
	}
	prevQ := -1.0
	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		q, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			t.Fatalf("bad q-value in %q: %v", line, err)
		}
		if q < prevQ {
			t.Fatalf("q-values not non-decreasing down the ranked output")
		}
		prevQ = q
	}

	weightLines := readLines(t, p.WeightOutputPath)
	// header plus three folds plus the mean
	if len(weightLines) != 5 {
		t.Errorf("weights file has %d lines, want 5", len(weightLines))
	}

	xml, err := os.ReadFile(p.XMLOutputPath)
	if err != nil {
		t.Fatalf("reading XML: %v", err)
	}
	if !bytes.Contains(xml, []byte("<psm ")) || !bytes.Contains(xml, []byte("<peptide ")) {
		t.Errorf("XML output lacks psm or peptide elements")
	}
}

func TestRunConcatenatedSearch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")

	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\tExpMass\txcorr\tPeptide\tProteins\n")
	for i := 0; i < 200; i++ {
		label := 1
		score := 2.0 + 0.05*float64(i%100)
		kind := "t"
		if i%2 == 1 {
			label = -1
			score = 1.5 + 0.05*float64(i%100)
			kind = "d"
		}
		fmt.Fprintf(&b, "%s_%d\t%d\t%d\t%.4f\t%.4f\tK.PEP%dK.R\tprot_%d\n",
			kind, i, label, i+1, 500.0+float64(i), score, i, i%10)
	}
	if err := os.WriteFile(input, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	p := baseParams(input, dir)
	if err := Run(p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(readLines(t, p.PsmResultPath)) != 101 {
		t.Errorf("expected 100 target rows")
	}
}

func TestRunMissingDecoys(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")

	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\txcorr\tPeptide\tProteins\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "t_%d\t1\t%d\t%.4f\tK.PEP%dK.R\tprot\n", i, i+1, float64(i), i)
	}
	if err := os.WriteFile(input, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	p := baseParams(input, dir)
	err := Run(p)
	if !errors.Is(err, core.ErrMissingClass) {
		t.Fatalf("Run without decoys = %v, want ErrMissingClass", err)
	}

	p.NoTerminate = true
	if err := Run(p); err != nil {
		t.Fatalf("Run with no-terminate: %v", err)
	}
	decoyLines := readLines(t, p.DecoyPsmResultPath)
	if len(decoyLines) != 1 {
		t.Errorf("decoy output should hold only the header, got %d lines", len(decoyLines))
	}
}

func TestRunTooGoodSeparation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")

	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\tExpMass\txcorr\tPeptide\tProteins\n")
	for i := 0; i < 60; i++ {
		mass := 500.0 + float64(i)
		fmt.Fprintf(&b, "t_%d\t1\t%d\t%.4f\t%.4f\tK.TP%dK.R\tprot\n", i, i+1, mass, 100.0+float64(i), i)
		fmt.Fprintf(&b, "d_%d\t-1\t%d\t%.4f\t%.4f\tK.DP%dK.R\trandom_prot\n", i, i+1, mass, float64(i), i)
	}
	if err := os.WriteFile(input, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	p := baseParams(input, dir)
	err := Run(p)
	if !errors.Is(err, stats.ErrTooGoodSeparation) {
		t.Fatalf("Run on perfectly separated input = %v, want ErrTooGoodSeparation", err)
	}

	p.NoTerminate = true
	if err := Run(p); err != nil {
		t.Fatalf("Run with no-terminate: %v", err)
	}
}

func TestRunReproducible(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")
	writeSeparatePin(t, input, 60)

	run := func(sub string) []byte {
		out := filepath.Join(dir, sub)
		if err := os.MkdirAll(out, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		p := baseParams(input, out)
		if err := Run(p); err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, err := os.ReadFile(p.PsmResultPath)
		if err != nil {
			t.Fatalf("reading results: %v", err)
		}
		return data
	}

	first := run("a")
	second := run("b")
	if !bytes.Equal(first, second) {
		t.Errorf("identical input and seed produced different output")
	}
}

func TestRunWithSubsetTraining(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")
	writeSeparatePin(t, input, 100)

	p := baseParams(input, dir)
	p.MaxPSMs = 120
	if err := Run(p); err != nil {
		t.Fatalf("Run with subset training: %v", err)
	}
	// the re-score pass evaluates the complete input
	if len(readLines(t, p.PsmResultPath)) != 101 {
		t.Errorf("full input should be scored after subset training")
	}
}

func TestRunWithDocFeatures(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")

	peptides := []string{"AAAA", "AALL", "GGLL", "SSLL", "TTLL", "KKLL", "EELL", "LLLL"}
	var b strings.Builder
	b.WriteString("SpecId\tLabel\tScanNr\tExpMass\tCalcMass\trt\txcorr\tPeptide\tProteins\n")
	for i := 0; i < 80; i++ {
		pep := peptides[i%len(peptides)]
		rt := 10.0 + float64(i%len(peptides))*3.0
		mass := 500.0 + float64(i)
		fmt.Fprintf(&b, "t_%d\t1\t%d\t%.4f\t%.4f\t%.2f\t%.4f\tK.%sK%d.R\tprot_%d\n",
			i, i+1, mass, mass-0.01, rt, 2.0+0.05*float64(i), pep, i, i%5)
		fmt.Fprintf(&b, "d_%d\t-1\t%d\t%.4f\t%.4f\t%.2f\t%.4f\tK.%sR%d.R\trandom_prot_%d\n",
			i, i+1, mass, mass+0.01, rt, 1.5+0.05*float64(i), pep, i, i%5)
	}
	if err := os.WriteFile(input, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	p := baseParams(input, dir)
	p.CalcDoc = true
	p.WeightOutputPath = filepath.Join(dir, "weights.tsv")
	if err := Run(p); err != nil {
		t.Fatalf("Run with doc features: %v", err)
	}

	weightLines := readLines(t, p.WeightOutputPath)
	header := strings.Split(weightLines[0], "\t")
	// rt, xcorr, the two retention features and the bias
	if len(header) != 5 {
		t.Fatalf("weights header has %d columns, want 5: %v", len(header), header)
	}
	if header[2] != "docRtDiff" || header[3] != "docMassDiff" {
		t.Errorf("retention feature names missing from header: %v", header)
	}
	if len(readLines(t, p.PsmResultPath)) != 81 {
		t.Errorf("expected 80 target rows")
	}
}

func TestRunPickedProtein(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.pin")
	writeSeparatePin(t, input, 80)

	p := baseParams(input, dir)
	p.PickedProtein = true
	p.DecoyPattern = "random_"
	p.ProteinResultPath = filepath.Join(dir, "proteins.tsv")
	p.DecoyProteinResultPath = filepath.Join(dir, "proteins_decoy.tsv")
	if err := Run(p); err != nil {
		t.Fatalf("Run with picked protein: %v", err)
	}
	lines := readLines(t, p.ProteinResultPath)
	if lines[0] != "ProteinId\tq-value\tposterior_error_prob\tpeptideIds" {
		t.Errorf("protein header = %q", lines[0])
	}
	if len(lines) < 2 {
		t.Errorf("no target proteins reported")
	}
}
