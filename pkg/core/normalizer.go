package core

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Normalizer is a per-feature affine transform fit once on the training rows
// and then applied to every row. Weight transforms let a vector trained in
// normalized space be reported in the original feature space and back.
type Normalizer interface {
	// Fit estimates the transform parameters for columns [offset, offset+n)
	// from the given rows.
	Fit(rows [][]float64, offset, n int)
	// Normalize applies the forward transform to columns [offset, offset+n)
	// of row, in place.
	Normalize(row []float64, offset, n int)
	// Unnormalize inverts the forward transform on columns [offset, offset+n)
	// of row, in place.
	Unnormalize(row []float64, offset, n int)
	// UnnormalizeWeights maps a weight vector (with bias in the last slot)
	// from normalized feature space to raw feature space.
	UnnormalizeWeights(in, out []float64)
	// NormalizeWeights is the inverse of UnnormalizeWeights.
	NormalizeWeights(in, out []float64)
}

// NewNormalizer returns a normalizer of the requested kind sized for
// numFeatures columns. Kind "unit" selects min/range scaling; anything else
// selects standard-deviation scaling.
func NewNormalizer(kind string, numFeatures int) Normalizer {
	if kind == "unit" {
		return &UnitNormalizer{
			min: make([]float64, numFeatures),
			rng: ones(numFeatures),
		}
	}
	return &StdvNormalizer{
		avg:  make([]float64, numFeatures),
		stdv: ones(numFeatures),
	}
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// StdvNormalizer centers each feature on its mean and scales by its
// standard deviation. Degenerate columns keep a unit divisor.
type StdvNormalizer struct {
	avg  []float64
	stdv []float64
}

// Fit implements Normalizer.
func (s *StdvNormalizer) Fit(rows [][]float64, offset, n int) {
	col := make([]float64, len(rows))
	for j := offset; j < offset+n; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		if len(rows) == 0 {
			s.avg[j], s.stdv[j] = 0, 1
			continue
		}
		mean := stat.Mean(col, nil)
		var ss float64
		for _, v := range col {
			d := v - mean
			ss += d * d
		}
		s.avg[j] = mean
		if ss <= 0 {
			s.stdv[j] = 1
		} else {
			s.stdv[j] = math.Sqrt(ss / float64(len(rows)))
		}
	}
}

// Normalize implements Normalizer.
func (s *StdvNormalizer) Normalize(row []float64, offset, n int) {
	for j := offset; j < offset+n; j++ {
		row[j] = (row[j] - s.avg[j]) / s.stdv[j]
	}
}

// Unnormalize implements Normalizer.
func (s *StdvNormalizer) Unnormalize(row []float64, offset, n int) {
	for j := offset; j < offset+n; j++ {
		row[j] = row[j]*s.stdv[j] + s.avg[j]
	}
}

// UnnormalizeWeights implements Normalizer. With the forward transform
// x' = (x-a)/d, a score w'·x' + b' equals (w'/d)·x + b' - sum(w'a/d), so the
// raw-space weights divide by the divisor and the bias absorbs the offsets.
func (s *StdvNormalizer) UnnormalizeWeights(in, out []float64) {
	var sum float64
	n := len(s.avg)
	for i := 0; i < n; i++ {
		out[i] = in[i] / s.stdv[i]
		sum += s.avg[i] * in[i] / s.stdv[i]
	}
	out[n] = in[n] - sum
}

// NormalizeWeights implements Normalizer.
func (s *StdvNormalizer) NormalizeWeights(in, out []float64) {
	var sum float64
	n := len(s.avg)
	for i := 0; i < n; i++ {
		out[i] = in[i] * s.stdv[i]
		sum += s.avg[i] * in[i]
	}
	out[n] = in[n] + sum
}

// UnitNormalizer rescales each feature to [0,1] by its observed range.
// Constant columns keep a unit divisor.
type UnitNormalizer struct {
	min []float64
	rng []float64
}

// Fit implements Normalizer.
func (u *UnitNormalizer) Fit(rows [][]float64, offset, n int) {
	for j := offset; j < offset+n; j++ {
		if len(rows) == 0 {
			u.min[j], u.rng[j] = 0, 1
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range rows {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		u.min[j] = lo
		if hi-lo == 0 {
			u.rng[j] = 1
		} else {
			u.rng[j] = hi - lo
		}
	}
}

// Normalize implements Normalizer.
func (u *UnitNormalizer) Normalize(row []float64, offset, n int) {
	for j := offset; j < offset+n; j++ {
		row[j] = (row[j] - u.min[j]) / u.rng[j]
	}
}

// Unnormalize implements Normalizer.
func (u *UnitNormalizer) Unnormalize(row []float64, offset, n int) {
	for j := offset; j < offset+n; j++ {
		row[j] = row[j]*u.rng[j] + u.min[j]
	}
}

// UnnormalizeWeights implements Normalizer.
func (u *UnitNormalizer) UnnormalizeWeights(in, out []float64) {
	var sum float64
	n := len(u.min)
	for i := 0; i < n; i++ {
		out[i] = in[i] / u.rng[i]
		sum += u.min[i] * in[i] / u.rng[i]
	}
	out[n] = in[n] - sum
}

// NormalizeWeights implements Normalizer.
func (u *UnitNormalizer) NormalizeWeights(in, out []float64) {
	var sum float64
	n := len(u.min)
	for i := 0; i < n; i++ {
		out[i] = in[i] * u.rng[i]
		sum += u.min[i] * in[i]
	}
	out[n] = in[n] + sum
}
