// Package scores implements the ordered collection of scored PSMs and the
// operations the learning loop runs on it: ranking, fold splitting,
// de-duplication, score normalization and the statistical summaries.
package scores

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/stats"
	"github.com/grosenberger/percolator/pkg/svm"
)

// ErrNoInitDirection signals that no single feature separates any targets
// from the decoys at the training FDR.
var ErrNoInitDirection = errors.New("cannot find an initial direction with positive training examples")

// Scores is an ordered sequence of ScoreHolders plus the class summaries the
// statistical layer needs. Ranking uses the strict total order of the core
// package, so equal runs produce identical sequences.
type Scores struct {
	cfg    core.Config
	usePi0 bool

	items    []core.ScoreHolder
	nTargets int
	nDecoys  int
	ratio    float64
	pi0      float64

	peptidePSMs map[*core.PSM][]*core.PSM
}

// New creates an empty score set. usePi0 selects the mix-max estimator for
// q-values and PEPs; without it target-decoy competition counting is used.
func New(cfg core.Config, usePi0 bool) *Scores {
	return &Scores{cfg: cfg, usePi0: usePi0, pi0: 1}
}

// Size returns the number of holders.
func (s *Scores) Size() int { return len(s.items) }

// PosSize returns the number of target holders.
func (s *Scores) PosSize() int { return s.nTargets }

// NegSize returns the number of decoy holders.
func (s *Scores) NegSize() int { return s.nDecoys }

// Pi0 returns the current pi0 estimate.
func (s *Scores) Pi0() float64 { return s.pi0 }

// TargetDecoyRatio returns targets over decoys.
func (s *Scores) TargetDecoyRatio() float64 { return s.ratio }

// UsesMixMax reports whether the mix-max estimator is active.
func (s *Scores) UsesMixMax() bool { return s.usePi0 }

// Holders exposes the underlying sequence. Callers must not reorder it.
func (s *Scores) Holders() []core.ScoreHolder { return s.items }

// Append adds a holder without updating the summaries; callers run
// RecalculateSizes or PostMergeStep afterwards.
func (s *Scores) Append(sh core.ScoreHolder) { s.items = append(s.items, sh) }

// Reset drops all holders.
func (s *Scores) Reset() {
	s.items = s.items[:0]
	s.nTargets, s.nDecoys = 0, 0
	s.ratio = 0
	s.pi0 = 1
}

// PeptidePSMs returns all PSMs sharing the peptide of a representative PSM,
// as recorded by WeedOutRedundant.
func (s *Scores) PeptidePSMs(psm *core.PSM) []*core.PSM { return s.peptidePSMs[psm] }

// Fill pulls all PSMs of both labels from the handler. Small or missing
// classes are reported; a missing class is fatal unless no-terminate is set.
func (s *Scores) Fill(h *core.SetHandler) error {
	s.items = s.items[:0]
	h.Each(func(psm *core.PSM, label int) {
		s.items = append(s.items, core.ScoreHolder{PSM: psm, Label: label})
	})
	s.nTargets = h.SizeOf(core.LabelTarget)
	s.nDecoys = h.SizeOf(core.LabelDecoy)
	s.ratio = float64(s.nTargets) / maxf(1, float64(s.nDecoys))

	s.cfg.Logf(2, "train/test set contains %d positives and %d negatives, size ratio=%g and pi0=%g",
		s.nTargets, s.nDecoys, s.ratio, s.pi0)

	if err := h.CheckClasses(); err != nil {
		if !s.cfg.NoTerminate {
			return err
		}
		log.Printf("warning: %v; no-terminate flag set, continuing", err)
	}
	if s.nTargets < s.cfg.TotalFeatures()*5 {
		log.Printf("warning: the number of positive samples is too small for a reliable classification")
	}
	if s.nDecoys < s.cfg.TotalFeatures()*5 {
		log.Printf("warning: the number of negative samples is too small for a reliable classification")
	}
	return nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (s *Scores) sortDescending() {
	sort.Slice(s.items, func(i, j int) bool {
		return core.Greater(&s.items[i], &s.items[j])
	})
}

func (s *Scores) scoreLabels() []stats.ScoreLabel {
	combined := make([]stats.ScoreLabel, len(s.items))
	for i := range s.items {
		combined[i] = stats.ScoreLabel{Score: s.items[i].Score, IsDecoy: s.items[i].IsDecoy()}
	}
	return combined
}

// CalcScores evaluates the weight vector on every holder, ranks the set and
// returns the number of targets with q below fdr.
func (s *Scores) CalcScores(w []float64, fdr float64, pool *core.FeaturePool) int {
	for i := range s.items {
		s.items[i].Score = svm.Score(pool.Row(s.items[i].PSM.Row), w)
	}
	s.sortDescending()
	if s.cfg.LogAt(4) && len(s.items) >= 10 {
		log.Printf("10 best scores and labels")
		for i := 0; i < 10; i++ {
			log.Printf("%g %d", s.items[i].Score, s.items[i].Label)
		}
	}
	return s.CalcQ(fdr, false)
}

// CalcQ assigns q-values in the current ranking order and returns the number
// of targets below fdr. skipDecoysPlusOne relaxes the competition counting
// on small sets.
func (s *Scores) CalcQ(fdr float64, skipDecoysPlusOne bool) int {
	qvals := stats.QValues(s.scoreLabels(), s.pi0, s.usePi0, skipDecoysPlusOne)
	numPos := 0
	for i := range s.items {
		s.items[i].Q = qvals[i]
		if s.items[i].Q < fdr && s.items[i].IsTarget() {
			numPos++
		}
	}
	return numPos
}

// CalcPep assigns posterior error probabilities in the current ranking order.
func (s *Scores) CalcPep() {
	peps := stats.EstimatePEP(s.scoreLabels(), s.usePi0, s.pi0)
	for i := range s.items {
		s.items[i].PEP = peps[i]
	}
}

// CalcP assigns target p-values in the current ranking order; decoys keep
// p = 1 as seen from the target null model.
func (s *Scores) CalcP() {
	decoysAbove := 0
	for i := range s.items {
		if s.items[i].IsDecoy() {
			decoysAbove++
			s.items[i].P = 1
			continue
		}
		s.items[i].P = float64(decoysAbove+1) / float64(s.nDecoys+1)
	}
}

// CheckSeparationAndSetPi0 estimates pi0 from the target p-values. Too good
// a separation is fatal unless no-terminate is set, in which case pi0 stays
// at 1.
func (s *Scores) CheckSeparationAndSetPi0() error {
	pvals := stats.PValues(s.scoreLabels())
	s.pi0 = 1
	if stats.CheckSeparation(pvals, s.nDecoys) {
		err := fmt.Errorf("input data: %w", stats.ErrTooGoodSeparation)
		if !s.cfg.NoTerminate {
			return err
		}
		if s.usePi0 {
			log.Printf("warning: %v; no-terminate flag set, using pi0 = 1", err)
		} else {
			log.Printf("warning: %v; no-terminate flag set, ignoring", err)
		}
		return nil
	}
	if s.usePi0 {
		s.pi0 = stats.EstimatePi0(pvals)
	}
	return nil
}

// Merge combines per-fold subsets into this set. Every subset is ranked,
// calibrated on its own decoys and rescaled before concatenation, so the
// fold-local scores become comparable.
func (s *Scores) Merge(subsets []*Scores, fdr float64) error {
	s.items = s.items[:0]
	for _, sub := range subsets {
		sub.sortDescending()
		if err := sub.CheckSeparationAndSetPi0(); err != nil {
			return err
		}
		sub.CalcQ(fdr, false)
		sub.NormalizeScores(fdr)
		s.items = append(s.items, sub.items...)
	}
	return s.PostMergeStep()
}

// PostMergeStep globally re-ranks the set, recounts the classes and
// re-estimates pi0.
func (s *Scores) PostMergeStep() error {
	s.sortDescending()
	s.RecalculateSizes()
	return s.CheckSeparationAndSetPi0()
}

// RecalculateSizes recounts targets and decoys and updates the ratio.
func (s *Scores) RecalculateSizes() {
	s.nTargets, s.nDecoys = 0, 0
	for i := range s.items {
		if s.items[i].IsTarget() {
			s.nTargets++
		} else {
			s.nDecoys++
		}
	}
	s.ratio = float64(s.nTargets) / maxf(1, float64(s.nDecoys))
}

// NormalizeScores linearly rescales the ranked scores so that the score at
// the fdr cutoff maps to 0 and the median decoy score to -1. When the two
// coincide or invert, the scores are only translated.
func (s *Scores) NormalizeScores(fdr float64) {
	if len(s.items) == 0 {
		return
	}
	medianIndex := s.nDecoys / 2
	decoys := 0
	fdrScore := s.items[0].Score
	medianDecoyScore := fdrScore + 1.0
	for i := range s.items {
		if s.items[i].Q < fdr {
			fdrScore = s.items[i].Score
		}
		if s.items[i].IsDecoy() {
			decoys++
			if decoys == medianIndex {
				medianDecoyScore = s.items[i].Score
				break
			}
		}
	}
	diff := fdrScore - medianDecoyScore
	for i := range s.items {
		s.items[i].Score -= fdrScore
		if diff > 0 {
			s.items[i].Score /= diff
		}
	}
}

// WeedOutRedundant reduces the set to one holder per (peptide, label) pair,
// keeping the best-scoring one, and records the PSMs collapsed into each
// representative for the peptide-level output.
func (s *Scores) WeedOutRedundant() error {
	sort.Slice(s.items, func(i, j int) bool {
		a, b := &s.items[i], &s.items[j]
		if a.PSM.Peptide != b.PSM.Peptide {
			return a.PSM.Peptide < b.PSM.Peptide
		}
		if a.Label != b.Label {
			return a.Label > b.Label
		}
		return a.Score > b.Score
	})

	s.peptidePSMs = make(map[*core.PSM][]*core.PSM)
	previousPeptide := ""
	previousLabel := 0
	lastWritten := 0
	for idx := range s.items {
		peptide := s.items[idx].PSM.Peptide
		label := s.items[idx].Label
		if peptide != previousPeptide || label != previousLabel {
			s.items[lastWritten] = s.items[idx]
			lastWritten++
			previousPeptide = peptide
			previousLabel = label
		}
		rep := s.items[lastWritten-1].PSM
		s.peptidePSMs[rep] = append(s.peptidePSMs[rep], s.items[idx].PSM)
	}
	s.items = s.items[:lastWritten]
	return s.PostMergeStep()
}

// WeedOutRedundantTDC keeps only the best-scoring holder per (scan, expMass)
// pair, the target-decoy competition step. The losers are dropped.
func (s *Scores) WeedOutRedundantTDC() error {
	sort.Slice(s.items, func(i, j int) bool {
		a, b := &s.items[i], &s.items[j]
		if a.PSM.Scan != b.PSM.Scan {
			return a.PSM.Scan < b.PSM.Scan
		}
		if a.PSM.ExpMass != b.PSM.ExpMass {
			return a.PSM.ExpMass < b.PSM.ExpMass
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Label > b.Label
	})
	lastWritten := 0
	for idx := range s.items {
		if idx == 0 ||
			s.items[idx].PSM.Scan != s.items[lastWritten-1].PSM.Scan ||
			s.items[idx].PSM.ExpMass != s.items[lastWritten-1].PSM.ExpMass {
			s.items[lastWritten] = s.items[idx]
			lastWritten++
		}
	}
	s.items = s.items[:lastWritten]
	return s.PostMergeStep()
}

// QvaluesBelow counts targets with q below the level.
func (s *Scores) QvaluesBelow(level float64) int {
	hits := 0
	for i := range s.items {
		if s.items[i].IsTarget() && s.items[i].Q < level {
			hits++
		}
	}
	return hits
}
