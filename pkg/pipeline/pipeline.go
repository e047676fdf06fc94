// Package pipeline wires the full run together: ingestion, normalization,
// input sanity checks, cross-validated training, statistics and emission.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/cv"
	"github.com/grosenberger/percolator/pkg/protein"
	"github.com/grosenberger/percolator/pkg/reader/osw"
	"github.com/grosenberger/percolator/pkg/reader/pintab"
	"github.com/grosenberger/percolator/pkg/retention"
	"github.com/grosenberger/percolator/pkg/sanity"
	"github.com/grosenberger/percolator/pkg/scores"
	"github.com/grosenberger/percolator/pkg/writer/pout"
	"github.com/grosenberger/percolator/pkg/writer/sqlite"
	"github.com/grosenberger/percolator/pkg/writer/tab"
)

// Version of the tool, stamped by the build.
var Version = "3.05"

// Params collects everything the command line resolved.
type Params struct {
	InputPath string
	ReadStdIn bool
	OSWInput  bool
	OSWLevel  string

	XMLOutputPath   string
	XMLPrintDecoys  bool
	XMLPrintExpMass bool

	TabOutputPath    string
	WeightOutputPath string

	PsmResultPath          string
	DecoyPsmResultPath     string
	PeptideResultPath      string
	DecoyPeptideResultPath string
	ProteinResultPath      string
	DecoyProteinResultPath string

	ReportUniquePeptides   bool
	TargetDecoyCompetition bool
	UseMixMax              bool
	InputSearchType        string

	SelectionFdr        float64
	TestFdr             float64
	NumIterations       int
	MaxPSMs             int
	Cpos                float64
	Cneg                float64
	ReportEachIteration bool
	QuickValidation     bool

	InitWeightsPath  string
	DefaultDirection string
	Override         bool
	UnitNorm         bool

	Seed        uint64
	Verbosity   int
	NoTerminate bool
	CalcDoc     bool
	Klammer     bool

	PickedProtein bool
	DecoyPattern  string

	// Call is the command line reproduced in the banner and the XML output.
	Call string
}

// Run executes the pipeline.
func Run(p Params) error {
	cfg := core.Config{
		Verbosity:   p.Verbosity,
		NoTerminate: p.NoTerminate,
		CalcDoc:     p.CalcDoc,
		Klammer:     p.Klammer,
	}
	if cfg.CalcDoc {
		cfg.NumDocFeatures = retention.NumFeatures
	}
	rng := core.NewRandom(p.Seed)

	if cfg.LogAt(1) {
		banner(p)
	}

	in, featureNames, err := readInput(p, cfg)
	if err != nil {
		return err
	}
	cfg.NumFeatures = len(featureNames)
	cfg.Logf(3, "number of features: %d", cfg.NumFeatures)

	handler, err := ingest(in, cfg, p, rng)
	if err != nil {
		return err
	}
	pool := handler.Pool()

	normKind := "stdv"
	if p.UnitNorm {
		normKind = "unit"
	}
	norm := core.NewNormalizer(normKind, cfg.TotalFeatures())
	handler.NormalizeFeatures(norm)

	docModel := retention.NewModel(cfg.Klammer)
	if cfg.CalcDoc {
		handler.Each(func(psm *core.PSM, label int) {
			docModel.SetFeatures(psm, pool.Row(psm.Row), cfg.NumFeatures)
		})
		handler.NormalizeDocFeatures(norm)
	}

	check := sanity.New(cfg, featureNames)
	check.InitWeightsPath = p.InitWeightsPath
	check.DefaultDirection = p.DefaultDirection
	check.Overrule = p.Override
	if dd := handler.DefaultDirection(); dd != nil {
		check.DirectionVector = padDirection(dd, cfg.TotalFeatures()+1)
	}

	concatenated := check.DetectSearchType(handler)
	useMixMax, useTDC := sanity.ResolveMode(cfg, concatenated, p.InputSearchType, p.UseMixMax, p.TargetDecoyCompetition)
	if useMixMax && useTDC {
		return fmt.Errorf("mix-max and target-decoy competition are mutually exclusive")
	}

	allScores := scores.New(cfg, useMixMax)
	if err := allScores.Fill(handler); err != nil {
		return err
	}
	if useMixMax && math.Abs(1.0-allScores.TargetDecoyRatio()) > 0.1 {
		log.Printf("warning: the mix-max procedure is not well behaved when # targets (%d) != # decoys (%d); consider target-decoy competition",
			allScores.PosSize(), allScores.NegSize())
	}

	crossValidation := cv.New(cfg, cv.Options{
		QuickValidation:     p.QuickValidation,
		ReportEachIteration: p.ReportEachIteration,
		TestFdr:             p.TestFdr,
		SelectionFdr:        p.SelectionFdr,
		Cpos:                p.Cpos,
		Cneg:                p.Cneg,
		NumIterations:       p.NumIterations,
		UseMixMax:           useMixMax,
	})
	positives, err := crossValidation.PreIterationSetup(allScores, check, norm, pool, rng)
	if err != nil {
		return err
	}
	cfg.Logf(1, "found %d test set positives with q<%g in initial direction", positives, p.TestFdr)

	if p.TabOutputPath != "" {
		if err := writeTabOut(p, handler, norm, cfg); err != nil {
			return err
		}
	}

	if err := crossValidation.Train(); err != nil {
		return err
	}

	if p.WeightOutputPath != "" {
		names := append(append([]string(nil), featureNames...), docFeatureNames(cfg)...)
		f, err := os.Create(p.WeightOutputPath)
		if err != nil {
			return fmt.Errorf("failed to create weights file: %w", err)
		}
		if err := crossValidation.PrintAllWeights(f, names); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}

	if err := crossValidation.PostIterationProcessing(allScores, check); err != nil {
		return err
	}

	if p.MaxPSMs > 0 {
		allScores, err = rescoreFullInput(p, cfg, allScores, crossValidation, docModel)
		if err != nil {
			return err
		}
	}

	var xmlWriter *pout.Writer
	if p.XMLOutputPath != "" {
		f, err := os.Create(p.XMLOutputPath)
		if err != nil {
			return fmt.Errorf("failed to create XML output: %w", err)
		}
		defer f.Close()
		xmlWriter = pout.NewWriter(f)
		xmlWriter.PrintDecoys = p.XMLPrintDecoys
		xmlWriter.PrintExpMass = p.XMLPrintExpMass
		if err := xmlWriter.Begin(p.Call); err != nil {
			return err
		}
	}

	if err := calculatePSMProb(p, cfg, allScores, useTDC, false); err != nil {
		return err
	}
	if xmlWriter != nil {
		if err := xmlWriter.WritePSMs(allScores); err != nil {
			return err
		}
	}

	if p.ReportUniquePeptides {
		if err := calculatePSMProb(p, cfg, allScores, useTDC, true); err != nil {
			return err
		}
		if xmlWriter != nil {
			if err := xmlWriter.WritePeptides(allScores); err != nil {
				return err
			}
		}
	}

	if p.PickedProtein {
		if err := calculateProteinProb(p, cfg, allScores); err != nil {
			return err
		}
	}

	if xmlWriter != nil {
		return xmlWriter.End()
	}
	return nil
}

func banner(p Params) {
	fmt.Fprintf(os.Stderr, "Percolator version %s\n", Version)
	fmt.Fprintf(os.Stderr, "Issued command:\n%s\n", p.Call)
	host := os.Getenv("HOSTNAME")
	if host != "" {
		fmt.Fprintf(os.Stderr, "Started %s on %s\n", time.Now().Format(time.ANSIC), host)
	} else {
		fmt.Fprintf(os.Stderr, "Started %s\n", time.Now().Format(time.ANSIC))
	}
	fmt.Fprintf(os.Stderr, "Hyperparameters: selectionFdr=%g, Cpos=%g, Cneg=%g, maxNiter=%d\n",
		p.SelectionFdr, p.Cpos, p.Cneg, p.NumIterations)
}

type rawInput struct {
	featureNames     []string
	defaultDirection []float64
	records          []osw.Record
}

// readInput loads the feature header and all rows from whichever input
// format was selected.
func readInput(p Params, cfg core.Config) (*rawInput, []string, error) {
	if p.OSWInput {
		cfg.Logf(2, "reading OSW input from datafile %s", p.InputPath)
		names, records, err := osw.Read(p.InputPath, p.OSWLevel)
		if err != nil {
			return nil, nil, err
		}
		return &rawInput{featureNames: names, records: records}, names, nil
	}

	var src io.Reader
	if p.ReadStdIn {
		cfg.Logf(2, "reading tab-delimited input from standard input")
		src = os.Stdin
	} else {
		cfg.Logf(2, "reading tab-delimited input from datafile %s", p.InputPath)
		f, err := os.Open(p.InputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		src = f
	}

	reader, err := pintab.NewReader(src)
	if err != nil {
		return nil, nil, err
	}
	in := &rawInput{
		featureNames:     reader.FeatureNames(),
		defaultDirection: reader.DefaultDirection(),
	}
	for reader.Next() {
		psm, label, features := reader.PSM()
		in.records = append(in.records, osw.Record{
			PSM: psm, Label: label, Features: append([]float64(nil), features...),
		})
	}
	if err := reader.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read input, check the file format: %w", err)
	}
	return in, reader.FeatureNames(), nil
}

// ingest moves the raw rows into a set handler sized for the final feature
// width, applying the subset limit.
func ingest(in *rawInput, cfg core.Config, p Params, rng *core.Random) (*core.SetHandler, error) {
	handler := core.NewSetHandler(cfg, p.MaxPSMs, rng)
	handler.SetFeatureNames(in.featureNames)
	handler.SetDefaultDirection(in.defaultDirection)
	for _, rec := range in.records {
		if rec.Label != core.LabelTarget && rec.Label != core.LabelDecoy {
			log.Printf("warning: the PSM %s has a label not in {1,-1} and will be ignored", rec.PSM.ID)
			continue
		}
		if cfg.CalcDoc {
			// with the retention features on, the first input feature holds
			// the observed retention time
			if rec.PSM.RetentionTime == 0 && len(rec.Features) > 0 {
				rec.PSM.RetentionTime = rec.Features[0]
			}
			if rec.PSM.CalcMass == 0 {
				rec.PSM.CalcMass = retention.PeptideMass(rec.PSM.Sequence())
			}
		}
		if err := handler.AddPSM(rec.PSM, rec.Label, rec.Features); err != nil {
			return nil, err
		}
	}
	return handler, nil
}

func padDirection(dir []float64, numWeights int) []float64 {
	out := make([]float64, numWeights)
	copy(out, dir)
	return out
}

func docFeatureNames(cfg core.Config) []string {
	if !cfg.CalcDoc {
		return nil
	}
	return []string{"docRtDiff", "docMassDiff"}
}

func writeTabOut(p Params, handler *core.SetHandler, norm core.Normalizer, cfg core.Config) error {
	f, err := os.Create(p.TabOutputPath)
	if err != nil {
		return fmt.Errorf("failed to create tab output: %w", err)
	}
	defer f.Close()
	opts := tab.PinOptions{
		WithExpMass:      true,
		WithCalcMass:     true,
		DefaultDirection: handler.DefaultDirection(),
	}
	return tab.WritePin(f, handler, norm, cfg, opts)
}

// rescoreFullInput streams the complete input back through the scorer with
// the mean raw-space weight vector after training on a subset. Only the
// tabular input format can be replayed this way.
func rescoreFullInput(p Params, cfg core.Config, trained *scores.Scores,
	crossValidation *cv.CrossValidation, docModel *retention.Model) (*scores.Scores, error) {
	if p.OSWInput || p.ReadStdIn {
		return nil, errors.New("subset-max-train requires a replayable tab-delimited input file")
	}
	cfg.Logf(1, "scoring full list of PSMs with the trained vectors")

	rawWeights := crossValidation.AvgWeights()
	if cfg.CalcDoc {
		if err := trained.RecalculateDOC(docModel); err != nil {
			cfg.Logf(2, "%v", err)
		}
	}

	f, err := os.Open(p.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen input file: %w", err)
	}
	defer f.Close()
	reader, err := pintab.NewReader(f)
	if err != nil {
		return nil, err
	}

	rescored := scores.New(cfg, trained.UsesMixMax())
	pool := core.NewFeaturePool(cfg.TotalFeatures(), 1024)
	for reader.Next() {
		psm, label, features := reader.PSM()
		row := pool.Alloc(psm)
		copy(pool.Row(row), features)
		rescored.ScoreAndAdd(core.ScoreHolder{PSM: psm, Label: label}, rawWeights, pool, docModel)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to re-read input, check the file format: %w", err)
	}

	cfg.Logf(2, "evaluated set contained %d positives and %d negatives",
		rescored.PosSize(), rescored.NegSize())

	if err := rescored.PostMergeStep(); err != nil {
		return nil, err
	}
	rescored.CalcQ(p.SelectionFdr, false)
	rescored.NormalizeScores(p.SelectionFdr)
	return rescored, nil
}

// calculatePSMProb reduces the set (peptide-unique or TDC), assigns q-values,
// PEPs and p-values, and writes the level's result files.
func calculatePSMProb(p Params, cfg core.Config, allScores *scores.Scores, useTDC, uniquePeptideRun bool) error {
	writeOutput := uniquePeptideRun == p.ReportUniquePeptides

	if uniquePeptideRun {
		if writeOutput {
			cfg.Logf(1, "tossing out redundant PSMs, keeping only the best scoring PSM per unique peptide")
		}
		if err := allScores.WeedOutRedundant(); err != nil {
			return err
		}
	} else if useTDC {
		if err := allScores.WeedOutRedundantTDC(); err != nil {
			return err
		}
		cfg.Logf(1, "selected best-scoring PSM per scan+expMass (target-decoy competition): %d target and %d decoy PSMs",
			allScores.PosSize(), allScores.NegSize())
	}

	if allScores.UsesMixMax() && writeOutput {
		cfg.Logf(1, "selecting pi0=%g", allScores.Pi0())
	}
	found := allScores.CalcQ(p.TestFdr, false)
	if writeOutput {
		level := "PSMs"
		if uniquePeptideRun {
			level = "peptides"
		}
		cfg.Logf(1, "final list yields %d target %s with q<%g", found, level, p.TestFdr)
	}
	allScores.CalcPep()
	allScores.CalcP()

	if p.OSWInput {
		writer, err := sqlite.NewWriter(p.InputPath, p.OSWLevel)
		if err != nil {
			return err
		}
		if err := writer.WriteScores(allScores); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	}

	targetPath, decoyPath := p.PsmResultPath, p.DecoyPsmResultPath
	if uniquePeptideRun {
		targetPath, decoyPath = p.PeptideResultPath, p.DecoyPeptideResultPath
	}
	if targetPath != "" {
		f, err := os.Create(targetPath)
		if err != nil {
			return fmt.Errorf("failed to create result file: %w", err)
		}
		if err := tab.WriteResults(f, allScores, core.LabelTarget); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if writeOutput {
		if err := tab.WriteResults(os.Stdout, allScores, core.LabelTarget); err != nil {
			return err
		}
	}
	if decoyPath != "" {
		f, err := os.Create(decoyPath)
		if err != nil {
			return fmt.Errorf("failed to create decoy result file: %w", err)
		}
		if err := tab.WriteResults(f, allScores, core.LabelDecoy); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}

func calculateProteinProb(p Params, cfg core.Config, allScores *scores.Scores) error {
	cfg.Logf(1, "calculating protein level probabilities")
	estimator := protein.NewPicked(cfg, p.DecoyPattern)
	if err := estimator.Initialize(allScores); err != nil {
		return err
	}
	if err := estimator.Run(); err != nil {
		return err
	}
	if err := estimator.ComputeProbabilities(); err != nil {
		return err
	}
	if err := estimator.ComputeStatistics(); err != nil {
		return err
	}
	return estimator.PrintOut(p.ProteinResultPath, p.DecoyProteinResultPath)
}
