// Package stats implements the target-decoy statistical layer: p-values,
// pi0 estimation, q-values under the mix-max and target-decoy competition
// estimators, and logistic posterior error probabilities.
package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/optimize"
)

// ScoreLabel pairs a score with its decoy flag. Slices passed to the
// functions below must be ranked best score first under the ranking order
// used by the score set.
type ScoreLabel struct {
	Score   float64
	IsDecoy bool
}

// ErrTooGoodSeparation signals that targets and decoys are so well separated
// that the null model breaks down and pi0 cannot be estimated.
var ErrTooGoodSeparation = errors.New("too good separation between target and decoy PSMs")

// PValues computes the target p-values from a ranked score sequence. Each
// target's p-value is (number of decoys ranked at or above it + 1) divided by
// (total decoys + 1). Ranking ties are already resolved by the caller's
// total order.
func PValues(combined []ScoreLabel) []float64 {
	nDecoys := 0
	for _, sl := range combined {
		if sl.IsDecoy {
			nDecoys++
		}
	}
	pvals := make([]float64, 0, len(combined)-nDecoys)
	decoysAbove := 0
	for _, sl := range combined {
		if sl.IsDecoy {
			decoysAbove++
			continue
		}
		pvals = append(pvals, float64(decoysAbove+1)/float64(nDecoys+1))
	}
	return pvals
}

// CheckSeparation reports whether the separation is implausibly good: the
// majority of targets attain the minimum attainable p-value, meaning they
// outscore every decoy.
func CheckSeparation(pvals []float64, nDecoys int) bool {
	if len(pvals) == 0 {
		return false
	}
	minP := 1.0 / float64(nDecoys+1)
	atMin := 0
	for _, p := range pvals {
		if p <= minP {
			atMin++
		}
	}
	return 2*atMin > len(pvals)
}

// EstimatePi0 estimates the proportion of incorrect target matches from the
// target p-value distribution. A natural cubic spline is fitted through the
// candidate estimates on a lambda grid and read off at the largest lambda,
// then clamped to [0,1]. The spline passes through every candidate, so the
// value read off equals the candidate estimate at that lambda; no smoothing
// takes place.
func EstimatePi0(pvals []float64) float64 {
	m := len(pvals)
	if m == 0 {
		return 1
	}
	var lambdas, estimates []float64
	for lambda := 0.05; lambda < 0.96; lambda += 0.05 {
		above := 0
		for _, p := range pvals {
			if p > lambda {
				above++
			}
		}
		lambdas = append(lambdas, lambda)
		estimates = append(estimates, float64(above)/(float64(m)*(1-lambda)))
	}
	pi0 := estimates[len(estimates)-1]
	var spline interp.NaturalCubic
	if err := spline.Fit(lambdas, estimates); err == nil {
		pi0 = spline.Predict(lambdas[len(lambdas)-1])
	}
	return math.Min(1, math.Max(0, pi0))
}

// QValues assigns a q-value to every element of a ranked score sequence.
// With mixMax set the running FDR is pi0 * decoys * (targets/decoys ratio) /
// targets; otherwise target-decoy competition counting (decoys+1)/targets is
// used, with skipDecoysPlusOne dropping the +1 (useful on small sets where
// it is too conservative). Right-to-left monotonization turns the running
// estimates into q-values.
func QValues(combined []ScoreLabel, pi0 float64, mixMax, skipDecoysPlusOne bool) []float64 {
	nTargets, nDecoys := 0, 0
	for _, sl := range combined {
		if sl.IsDecoy {
			nDecoys++
		} else {
			nTargets++
		}
	}
	ratio := float64(nTargets) / math.Max(1, float64(nDecoys))

	qvals := make([]float64, len(combined))
	targets, decoys := 0, 0
	for i, sl := range combined {
		if sl.IsDecoy {
			decoys++
		} else {
			targets++
		}
		var fdr float64
		if mixMax {
			fdr = pi0 * float64(decoys) * ratio / math.Max(1, float64(targets))
		} else {
			plusOne := 1
			if skipDecoysPlusOne {
				plusOne = 0
			}
			fdr = float64(decoys+plusOne) / math.Max(1, float64(targets))
		}
		qvals[i] = math.Min(1, fdr)
	}
	for i := len(qvals) - 2; i >= 0; i-- {
		qvals[i] = math.Min(qvals[i], qvals[i+1])
	}
	return qvals
}

// EstimatePEP fits a two-parameter logistic model of the decoy probability
// as a function of score and converts it into a posterior error probability
// for every element of the ranked sequence. With usePi0 the posterior is
// shrunk by pi0. The result is clamped to [0,1] and made monotone
// non-decreasing from best to worst score.
func EstimatePEP(combined []ScoreLabel, usePi0 bool, pi0 float64) []float64 {
	nTargets, nDecoys := 0, 0
	for _, sl := range combined {
		if sl.IsDecoy {
			nDecoys++
		} else {
			nTargets++
		}
	}
	if nTargets == 0 || nDecoys == 0 {
		// no mixture to model
		return make([]float64, len(combined))
	}
	slope, intercept := fitLogistic(combined)

	factor := 1.0
	if usePi0 {
		factor = pi0
	}
	classRatio := float64(nTargets) / math.Max(1, float64(nDecoys))

	peps := make([]float64, len(combined))
	for i, sl := range combined {
		pDecoy := sigmoid(slope*sl.Score + intercept)
		odds := pDecoy / math.Max(1e-12, 1-pDecoy)
		peps[i] = math.Min(1, factor*odds*classRatio)
	}
	for i := 1; i < len(peps); i++ {
		peps[i] = math.Max(peps[i], peps[i-1])
	}
	return peps
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// log(1 + exp(z)) without overflow
func logistic(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// fitLogistic minimizes the binomial deviance of decoy-vs-target against
// score. A flat model is returned when the optimizer fails; downstream
// handles the resulting constant posterior.
func fitLogistic(combined []ScoreLabel) (slope, intercept float64) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			nll := 0.0
			for _, sl := range combined {
				z := x[0]*sl.Score + x[1]
				if sl.IsDecoy {
					nll += logistic(-z)
				} else {
					nll += logistic(z)
				}
			}
			return nll
		},
	}
	result, err := optimize.Minimize(problem, []float64{0, 0}, nil, &optimize.NelderMead{})
	if err != nil || result == nil {
		return 0, 0
	}
	return result.X[0], result.X[1]
}
