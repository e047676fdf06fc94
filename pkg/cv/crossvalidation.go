// Package cv drives the nested cross-validation: three disjoint folds, a
// per-fold grid search over the misclassification costs, and the iteration
// loop that re-selects positive training examples from the previous round's
// scores. No PSM is ever scored by a classifier it helped train.
package cv

import (
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/retention"
	"github.com/grosenberger/percolator/pkg/sanity"
	"github.com/grosenberger/percolator/pkg/scores"
	"github.com/grosenberger/percolator/pkg/svm"
)

// NumFolds is fixed by the design.
const NumFolds = 3

// Options configures the driver.
type Options struct {
	QuickValidation     bool
	ReportEachIteration bool
	TestFdr             float64
	SelectionFdr        float64
	// A positive Cpos pins the Cpos axis of the grid. Cneg is used only
	// together with a positive Cpos; the grid is then the single point
	// (Cpos, Cneg).
	Cpos          float64
	Cneg          float64
	NumIterations int
	UseMixMax     bool
}

// CrossValidation trains one weight vector per fold and assembles the final
// combined score set.
type CrossValidation struct {
	cfg  core.Config
	opts Options

	pool *core.FeaturePool
	norm core.Normalizer

	trainSets []*scores.Scores
	testSets  []*scores.Scores
	w         [][]float64

	candidateCpos  []float64
	candidateCfrac []float64
	chosenCpos     []float64
	chosenCneg     []float64

	docModels []*retention.Model
}

// New creates a driver.
func New(cfg core.Config, opts Options) *CrossValidation {
	if opts.NumIterations <= 0 {
		opts.NumIterations = 10
	}
	return &CrossValidation{cfg: cfg, opts: opts}
}

// Weights exposes the per-fold weight vectors in normalized feature space.
func (cv *CrossValidation) Weights() [][]float64 { return cv.w }

// PreIterationSetup splits the score set into folds, determines the initial
// direction for every fold and scores the test folds with it. It returns the
// number of test-set positives found in the initial direction.
func (cv *CrossValidation) PreIterationSetup(all *scores.Scores, check *sanity.Check,
	norm core.Normalizer, pool *core.FeaturePool, rng *core.Random) (int, error) {
	cv.pool = pool
	cv.norm = norm
	cv.trainSets, cv.testSets = all.CreateXvalSetsBySpectrum(NumFolds, pool, rng)

	ws, err := check.InitDirections(cv.trainSets, cv.opts.SelectionFdr, norm, pool)
	if err != nil {
		return 0, err
	}
	cv.w = ws

	if cv.opts.Cpos > 0 {
		cv.candidateCpos = []float64{cv.opts.Cpos}
	} else {
		cv.candidateCpos = []float64{1, 10}
	}
	if cv.opts.Cneg > 0 && cv.opts.Cpos > 0 {
		cv.candidateCfrac = []float64{cv.opts.Cneg / cv.opts.Cpos}
	} else {
		cv.candidateCfrac = []float64{1, 3, 10}
	}
	cv.chosenCpos = make([]float64, NumFolds)
	cv.chosenCneg = make([]float64, NumFolds)

	if cv.cfg.CalcDoc {
		cv.docModels = make([]*retention.Model, NumFolds)
		for i := range cv.docModels {
			cv.docModels[i] = retention.NewModel(cv.cfg.Klammer)
		}
	}

	positives := 0
	for i := 0; i < NumFolds; i++ {
		positives += cv.testSets[i].CalcScores(cv.w[i], cv.opts.TestFdr, pool)
	}
	return positives, nil
}

// Train runs the iteration loop. The folds of one iteration are independent
// once their training sets are defined and run concurrently; all randomness
// was consumed during the fold split, so concurrency cannot perturb the
// results.
func (cv *CrossValidation) Train() error {
	for iter := 0; iter < cv.opts.NumIterations; iter++ {
		updateGrid := !cv.opts.QuickValidation || iter == 0

		found := make([]int, NumFolds)
		if cv.cfg.CalcDoc {
			// the retention features live in the shared arena rows, so the
			// folds must not refit them concurrently
			for i := 0; i < NumFolds; i++ {
				n, err := cv.processSingleFold(i, updateGrid)
				if err != nil {
					return err
				}
				found[i] = n
			}
		} else {
			var g errgroup.Group
			for i := 0; i < NumFolds; i++ {
				fold := i
				g.Go(func() error {
					n, err := cv.processSingleFold(fold, updateGrid)
					found[fold] = n
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}

		total := 0
		for _, n := range found {
			total += n
		}
		if cv.opts.ReportEachIteration {
			log.Printf("iteration %d: found %d test set positives with q<%g",
				iter+1, total, cv.opts.TestFdr)
		} else {
			cv.cfg.Logf(2, "iteration %d: found %d test set positives with q<%g",
				iter+1, total, cv.opts.TestFdr)
		}
	}
	return nil
}

// processSingleFold re-selects the positive training examples under the
// fold's current direction, trains a classifier per grid point and keeps the
// one with the most test-fold discoveries.
func (cv *CrossValidation) processSingleFold(fold int, updateGrid bool) (int, error) {
	train := cv.trainSets[fold]
	train.CalcScores(cv.w[fold], cv.opts.SelectionFdr, cv.pool)

	if cv.cfg.CalcDoc {
		if err := train.RecalculateDOC(cv.docModels[fold]); err != nil {
			cv.cfg.Logf(2, "fold %d: %v", fold+1, err)
		} else {
			train.SetDOCFeatures(cv.docModels[fold], cv.pool, cv.norm)
		}
	}

	cposGrid := cv.candidateCpos
	cfracGrid := cv.candidateCfrac
	if !updateGrid {
		cposGrid = []float64{cv.chosenCpos[fold]}
		cfracGrid = []float64{cv.chosenCneg[fold] / cv.chosenCpos[fold]}
	}

	problem := svm.NewProblem(train.Size(), cv.cfg.TotalFeatures())
	bestTP := -1
	var bestW []float64
	for _, cpos := range cposGrid {
		for _, cfrac := range cfracGrid {
			cneg := cfrac * cpos
			problem.Reset()
			train.GenerateNegativeTrainingSet(problem, cneg, cv.pool)
			train.GeneratePositiveTrainingSet(problem, cv.opts.SelectionFdr, cpos, cv.pool)
			cv.cfg.Logf(3, "fold %d: training with cpos=%g, cneg=%g on %d positives and %d negatives",
				fold+1, cpos, cneg, problem.Positives, problem.Negatives)

			w := svm.Train(problem, svm.Options{})
			tp := cv.testSets[fold].CalcScores(w, cv.opts.TestFdr, cv.pool)
			if tp > bestTP {
				bestTP = tp
				bestW = w
				if updateGrid {
					cv.chosenCpos[fold] = cpos
					cv.chosenCneg[fold] = cneg
				}
			}
		}
	}
	cv.w[fold] = bestW
	return bestTP, nil
}

// PostIterationProcessing re-scores every test fold with its final weight
// vector and merges the folds into the combined score set. Suspect trained
// weights fall back to the initial direction unless overridden.
func (cv *CrossValidation) PostIterationProcessing(all *scores.Scores, check *sanity.Check) error {
	if !check.ValidateDirection(cv.w) {
		log.Printf("warning: suspect learned weight vector, falling back to the initial direction")
		ws, err := check.InitDirections(cv.trainSets, cv.opts.SelectionFdr, cv.norm, cv.pool)
		if err != nil {
			return err
		}
		cv.w = ws
	}
	for i := 0; i < NumFolds; i++ {
		cv.testSets[i].CalcScores(cv.w[i], cv.opts.TestFdr, cv.pool)
	}
	return all.Merge(cv.testSets, cv.opts.SelectionFdr)
}

// AvgWeights returns the mean of the per-fold weight vectors mapped back to
// raw feature space.
func (cv *CrossValidation) AvgWeights() []float64 {
	numWeights := cv.cfg.TotalFeatures() + 1
	avg := make([]float64, numWeights)
	raw := make([]float64, numWeights)
	for _, w := range cv.w {
		cv.norm.UnnormalizeWeights(w, raw)
		for j, v := range raw {
			avg[j] += v
		}
	}
	for j := range avg {
		avg[j] /= float64(len(cv.w))
	}
	return avg
}

// PrintAllWeights writes one raw-space weight line per fold plus the mean,
// preceded by the feature header.
func (cv *CrossValidation) PrintAllWeights(w io.Writer, featureNames []string) error {
	header := append(append([]string(nil), featureNames...), "m0")
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return err
	}
	raw := make([]float64, cv.cfg.TotalFeatures()+1)
	writeLine := func(vals []float64) error {
		fields := make([]string, len(vals))
		for i, v := range vals {
			fields[i] = fmt.Sprintf("%g", v)
		}
		_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
		return err
	}
	for _, fw := range cv.w {
		cv.norm.UnnormalizeWeights(fw, raw)
		if err := writeLine(raw); err != nil {
			return err
		}
	}
	return writeLine(cv.AvgWeights())
}
