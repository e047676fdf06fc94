package scores

import (
	"fmt"
	"log"
	"sort"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/retention"
	"github.com/grosenberger/percolator/pkg/svm"
)

// CreateXvalSetsBySpectrum partitions the set into numFolds disjoint test
// folds and their complementary training folds. All PSMs of one scan land in
// the same test fold; fold quotas follow a floor-of-remaining division so
// the fold sizes sum to the total. After the split the arena rows of each
// test fold are gathered into contiguous spans, targets first.
func (s *Scores) CreateXvalSetsBySpectrum(numFolds int, pool *core.FeaturePool, rng *core.Random) (train, test []*Scores) {
	train = make([]*Scores, numFolds)
	test = make([]*Scores, numFolds)
	for i := 0; i < numFolds; i++ {
		train[i] = New(s.cfg, s.usePi0)
		test[i] = New(s.cfg, s.usePi0)
	}

	remain := make([]int, numFolds)
	ix := len(s.items)
	for fold := numFolds - 1; fold >= 0; fold-- {
		remain[fold] = ix / (fold + 1)
		ix -= remain[fold]
	}

	byScan := make([]core.ScoreHolder, len(s.items))
	copy(byScan, s.items)
	sort.SliceStable(byScan, func(i, j int) bool {
		return byScan[i].PSM.Scan < byScan[j].PSM.Scan
	})

	if len(byScan) == 0 {
		return train, test
	}
	previousScan := byScan[0].PSM.Scan
	randIndex := rng.Intn(numFolds)
	for _, sh := range byScan {
		if sh.PSM.Scan != previousScan {
			randIndex = rng.Intn(numFolds)
			for remain[randIndex] <= 0 {
				randIndex = rng.Intn(numFolds)
			}
		}
		for i := 0; i < numFolds; i++ {
			if i == randIndex {
				test[i].Append(sh)
			} else {
				train[i].Append(sh)
			}
		}
		remain[randIndex]--
		previousScan = sh.PSM.Scan
	}

	for i := 0; i < numFolds; i++ {
		train[i].RecalculateSizes()
		test[i].RecalculateSizes()
	}

	next := 0
	for i := 0; i < numFolds; i++ {
		test[i].reorderFeatureRows(pool, true, &next)
		test[i].reorderFeatureRows(pool, false, &next)
	}
	return train, test
}

func (s *Scores) reorderFeatureRows(pool *core.FeaturePool, isTarget bool, next *int) {
	members := make(map[*core.PSM]bool, len(s.items))
	for i := range s.items {
		if s.items[i].IsTarget() == isTarget {
			members[s.items[i].PSM] = true
		}
	}
	pool.Reorder(func(p *core.PSM) bool { return members[p] }, next)
}

// GetInitDirection scans every feature in both directions and returns the
// signed one-hot weight vector (bias slot included) that separates the most
// targets at the given FDR, together with that count. With no positives in
// any direction an error is raised; under no-terminate the first feature is
// used instead.
func (s *Scores) GetInitDirection(fdr float64, pool *core.FeaturePool) ([]float64, int, error) {
	bestPositives := -1
	bestFeature := -1
	lowBest := false

	// the decoys+1 of the competition count is too conservative for
	// picking a direction on small sets
	const skipDecoysPlusOne = true

	for feat := 0; feat < s.cfg.NumFeatures; feat++ {
		for i := range s.items {
			s.items[i].Score = pool.Row(s.items[i].PSM.Row)[feat]
		}
		sort.Slice(s.items, func(i, j int) bool {
			return core.Less(&s.items[i], &s.items[j])
		})
		for dir := 0; dir < 2; dir++ {
			if dir == 1 {
				reverse(s.items)
			}
			positives := s.CalcQ(fdr, skipDecoysPlusOne)
			if positives > bestPositives {
				bestPositives = positives
				bestFeature = feat
				lowBest = dir == 0
			}
		}
	}

	direction := make([]float64, s.cfg.TotalFeatures()+1)
	if bestPositives <= 0 {
		err := fmt.Errorf("%w at training FDR %g; consider raising the threshold", ErrNoInitDirection, fdr)
		if !s.cfg.NoTerminate {
			return nil, 0, err
		}
		log.Printf("warning: %v; no-terminate flag set, using the first feature", err)
		bestFeature = 0
	}
	if bestFeature >= 0 {
		if lowBest {
			direction[bestFeature] = -1
		} else {
			direction[bestFeature] = 1
		}
	}
	s.cfg.Logf(2, "selected feature %d as initial search direction, separating %d positives",
		bestFeature+1, bestPositives)
	return direction, bestPositives, nil
}

func reverse(items []core.ScoreHolder) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// GenerateNegativeTrainingSet adds every decoy to the training problem with
// cost cneg.
func (s *Scores) GenerateNegativeTrainingSet(p *svm.Problem, cneg float64, pool *core.FeaturePool) {
	for i := range s.items {
		if s.items[i].IsDecoy() {
			p.Add(pool.Row(s.items[i].PSM.Row), -1, cneg)
		}
	}
}

// GeneratePositiveTrainingSet adds the targets with q below fdr to the
// training problem with cost cpos. The set must be ranked; the walk stops at
// the first target beyond the threshold.
func (s *Scores) GeneratePositiveTrainingSet(p *svm.Problem, fdr, cpos float64, pool *core.FeaturePool) {
	for i := range s.items {
		if !s.items[i].IsTarget() {
			continue
		}
		if s.items[i].Q >= fdr {
			break
		}
		p.Add(pool.Row(s.items[i].PSM.Row), 1, cpos)
	}
}

// ScoreAndAdd scores a freshly read PSM with raw-space weights in a single
// pass, releasing its arena row immediately afterwards. Holders with labels
// outside {+1,-1} are warned about and dropped.
func (s *Scores) ScoreAndAdd(sh core.ScoreHolder, rawWeights []float64, pool *core.FeaturePool, model *retention.Model) {
	row := pool.Row(sh.PSM.Row)
	if s.cfg.CalcDoc && model != nil {
		model.SetFeatures(sh.PSM, row, s.cfg.NumFeatures)
	}
	sh.Score = svm.Score(row, rawWeights)
	pool.Deallocate(sh.PSM.Row)

	switch sh.Label {
	case core.LabelTarget:
		s.nTargets++
	case core.LabelDecoy:
		s.nDecoys++
	default:
		log.Printf("warning: the PSM %s has a label not in {1,-1} and will be ignored", sh.PSM.ID)
		return
	}
	s.items = append(s.items, sh)
}

// RecalculateDOC refits the retention model on the targets identified with
// certainty under the current ranking.
func (s *Scores) RecalculateDOC(model *retention.Model) error {
	model.Clear()
	for i := range s.items {
		if s.items[i].IsTarget() && s.items[i].Q <= 0 {
			model.Register(s.items[i].PSM)
		}
	}
	return model.Train()
}

// SetDOCFeatures recomputes the retention features of every holder and
// normalizes them with the already fitted transform.
func (s *Scores) SetDOCFeatures(model *retention.Model, pool *core.FeaturePool, norm core.Normalizer) {
	for i := range s.items {
		row := pool.Row(s.items[i].PSM.Row)
		model.SetFeatures(s.items[i].PSM, row, s.cfg.NumFeatures)
		norm.Normalize(row, s.cfg.NumFeatures, s.cfg.NumDocFeatures)
	}
}
