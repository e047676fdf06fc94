package pintab

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/grosenberger/percolator/pkg/core"
)

const sampleInput = `SpecId	Label	ScanNr	ExpMass	CalcMass	score	deltaMass	Peptide	Proteins
target_1	1	101	500.5	500.4	1.5	0.1	K.PEPTIDER.A	protA	protB
decoy_1	-1	101	500.5	500.6	-0.5	0.3	K.REDITPEP.A	random_protA
`

func TestReaderParsesRows(t *testing.T) {
	r, err := NewReader(strings.NewReader(sampleInput))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if diff := cmp.Diff([]string{"score", "deltaMass"}, r.FeatureNames()); diff != "" {
		t.Fatalf("feature names mismatch:\n%s", diff)
	}

	if !r.Next() {
		t.Fatalf("Next() = false, err %v", r.Err())
	}
	psm, label, features := r.PSM()
	if psm.ID != "target_1" || label != core.LabelTarget {
		t.Errorf("first PSM = %s label %d", psm.ID, label)
	}
	if psm.Scan != 101 || psm.ExpMass != 500.5 || psm.CalcMass != 500.4 {
		t.Errorf("scan/mass wrong: %+v", psm)
	}
	if diff := cmp.Diff([]float64{1.5, 0.1}, features); diff != "" {
		t.Errorf("features mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"protA", "protB"}, psm.ProteinIDs); diff != "" {
		t.Errorf("proteins mismatch:\n%s", diff)
	}

	if !r.Next() {
		t.Fatalf("second Next() = false, err %v", r.Err())
	}
	_, label, _ = r.PSM()
	if label != core.LabelDecoy {
		t.Errorf("second label = %d, want decoy", label)
	}

	if r.Next() {
		t.Errorf("Next() past the end should be false")
	}
	if r.Err() != nil {
		t.Errorf("clean EOF should leave Err nil, got %v", r.Err())
	}
}

func TestReaderDefaultDirection(t *testing.T) {
	input := "SpecId\tLabel\tScanNr\tf1\tf2\tPeptide\tProteins\n" +
		"DefaultDirection\t-\t-\t1\t-1\t-\t-\n" +
		"psm_1\t1\t1\t0.5\t0.25\tK.AAA.R\tprotA\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	want := []float64{1, -1, 0}
	if diff := cmp.Diff(want, r.DefaultDirection()); diff != "" {
		t.Fatalf("default direction mismatch:\n%s", diff)
	}
	if !r.Next() {
		t.Fatalf("Next() after direction row failed: %v", r.Err())
	}
	psm, _, _ := r.PSM()
	if psm.ID != "psm_1" {
		t.Errorf("first PSM after direction row = %s", psm.ID)
	}
}

func TestReaderWithoutMassColumns(t *testing.T) {
	input := "id\tLabel\tScanNr\tonly\tPeptide\tProteins\n" +
		"p\t1\t7\t2.5\tA.BCD.E\tprot\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !r.Next() {
		t.Fatalf("Next(): %v", r.Err())
	}
	psm, _, features := r.PSM()
	if psm.ExpMass != 0 || psm.CalcMass != 0 {
		t.Errorf("masses should default to 0 without columns: %+v", psm)
	}
	if features[0] != 2.5 {
		t.Errorf("feature = %g, want 2.5", features[0])
	}
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"no peptide column", "id\tLabel\tScanNr\tf1\tf2\n"},
		{"no features", "id\tLabel\tScanNr\tPeptide\tProteins\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(tt.input)); err == nil {
				t.Errorf("expected a header error")
			}
		})
	}
}

func TestReaderRowErrors(t *testing.T) {
	input := "id\tLabel\tScanNr\tf1\tPeptide\tProteins\n" +
		"p\tnotanumber\t1\t1.0\tA.B.C\tprot\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Next() {
		t.Fatalf("Next() should fail on a bad label")
	}
	if r.Err() == nil {
		t.Fatalf("Err() should report the bad label")
	}
}
