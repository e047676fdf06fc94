// Package protein defines the handoff to protein-level inference and a
// picked-competition estimator implementing it: each target protein competes
// with its decoy counterpart and only the winner is assigned statistics.
package protein

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/scores"
	"github.com/grosenberger/percolator/pkg/stats"
)

// Estimator is the capability set the pipeline hands its scores to.
type Estimator interface {
	Initialize(set *scores.Scores) error
	Run() error
	ComputeProbabilities() error
	ComputeStatistics() error
	PrintOut(targetPath, decoyPath string) error
}

type proteinRecord struct {
	name     string
	score    float64
	q        float64
	pep      float64
	decoy    bool
	peptides []string
}

// PickedEstimator scores proteins by their best peptide and applies picked
// target-decoy competition before estimating q-values and PEPs.
type PickedEstimator struct {
	cfg          core.Config
	decoyPattern string
	proteins     []proteinRecord
}

// NewPicked creates the estimator. decoyPattern is the prefix that marks
// decoy protein identifiers.
func NewPicked(cfg core.Config, decoyPattern string) *PickedEstimator {
	if decoyPattern == "" {
		decoyPattern = "random_"
	}
	return &PickedEstimator{cfg: cfg, decoyPattern: decoyPattern}
}

// Initialize collects the best peptide score per protein.
func (e *PickedEstimator) Initialize(set *scores.Scores) error {
	type agg struct {
		score    float64
		decoy    bool
		peptides map[string]bool
	}
	byName := make(map[string]*agg)
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		for _, name := range sh.PSM.ProteinIDs {
			a, ok := byName[name]
			if !ok {
				a = &agg{score: sh.Score, decoy: sh.IsDecoy(), peptides: make(map[string]bool)}
				byName[name] = a
			} else if sh.Score > a.score {
				a.score = sh.Score
			}
			a.peptides[sh.PSM.Sequence()] = true
		}
	}
	e.proteins = e.proteins[:0]
	for name, a := range byName {
		peptides := make([]string, 0, len(a.peptides))
		for p := range a.peptides {
			peptides = append(peptides, p)
		}
		sort.Strings(peptides)
		decoy := a.decoy || strings.HasPrefix(name, e.decoyPattern)
		e.proteins = append(e.proteins, proteinRecord{
			name: name, score: a.score, decoy: decoy, peptides: peptides,
		})
	}
	e.sortProteins()
	if len(e.proteins) == 0 {
		return fmt.Errorf("no proteins found in the score set")
	}
	return nil
}

func (e *PickedEstimator) sortProteins() {
	sort.Slice(e.proteins, func(i, j int) bool {
		if e.proteins[i].score != e.proteins[j].score {
			return e.proteins[i].score > e.proteins[j].score
		}
		return e.proteins[i].name < e.proteins[j].name
	})
}

// Run performs the picked competition: of each target/decoy protein pair,
// only the higher scoring one survives.
func (e *PickedEstimator) Run() error {
	base := func(r *proteinRecord) string {
		if r.decoy {
			return strings.TrimPrefix(r.name, e.decoyPattern)
		}
		return r.name
	}
	best := make(map[string]int)
	for i := range e.proteins {
		key := base(&e.proteins[i])
		if j, ok := best[key]; !ok || e.proteins[i].score > e.proteins[j].score {
			best[key] = i
		}
	}
	kept := e.proteins[:0]
	for i := range e.proteins {
		if best[base(&e.proteins[i])] == i {
			kept = append(kept, e.proteins[i])
		}
	}
	e.proteins = kept
	e.sortProteins()
	return nil
}

func (e *PickedEstimator) scoreLabels() []stats.ScoreLabel {
	combined := make([]stats.ScoreLabel, len(e.proteins))
	for i := range e.proteins {
		combined[i] = stats.ScoreLabel{Score: e.proteins[i].score, IsDecoy: e.proteins[i].decoy}
	}
	return combined
}

// ComputeProbabilities assigns posterior error probabilities.
func (e *PickedEstimator) ComputeProbabilities() error {
	peps := stats.EstimatePEP(e.scoreLabels(), false, 1)
	for i := range e.proteins {
		e.proteins[i].pep = peps[i]
	}
	return nil
}

// ComputeStatistics assigns q-values by target-decoy competition counting.
func (e *PickedEstimator) ComputeStatistics() error {
	qvals := stats.QValues(e.scoreLabels(), 1, false, false)
	for i := range e.proteins {
		e.proteins[i].q = qvals[i]
	}
	return nil
}

// PrintOut writes the target and decoy protein results. An empty target path
// selects standard output; an empty decoy path skips the decoy report.
func (e *PickedEstimator) PrintOut(targetPath, decoyPath string) error {
	var target io.Writer = os.Stdout
	if targetPath != "" {
		f, err := os.Create(targetPath)
		if err != nil {
			return fmt.Errorf("failed to create protein result file: %w", err)
		}
		defer f.Close()
		target = f
	}
	if err := e.print(target, false); err != nil {
		return err
	}
	if decoyPath != "" {
		f, err := os.Create(decoyPath)
		if err != nil {
			return fmt.Errorf("failed to create decoy protein result file: %w", err)
		}
		defer f.Close()
		return e.print(f, true)
	}
	return nil
}

func (e *PickedEstimator) print(w io.Writer, decoys bool) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "ProteinId\tq-value\tposterior_error_prob\tpeptideIds"); err != nil {
		return err
	}
	for i := range e.proteins {
		p := &e.proteins[i]
		if p.decoy != decoys {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s\t%g\t%g\t%s\n",
			p.name, p.q, p.pep, strings.Join(p.peptides, " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}
