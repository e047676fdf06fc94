// Package svm trains the linear classifier used for re-ranking: hinge loss
// with an L2 penalty, per-example costs and an unregularized bias term. The
// solver runs subgradient descent in a fixed pass order, so identical input
// always yields identical weights and the input rows are never written to.
package svm

import (
	"gonum.org/v1/gonum/floats"
)

// Problem is the training input: one feature row per example, its binary
// label in Y (+1/-1) and its misclassification cost in Cost. Rows alias the
// caller's feature arena and are read-only for the solver.
type Problem struct {
	Rows        [][]float64
	Y           []int
	Cost        []float64
	NumFeatures int

	// Positives and Negatives track the class counts for diagnostics.
	Positives int
	Negatives int
}

// NewProblem allocates a problem sized for m examples of the given width.
func NewProblem(m, numFeatures int) *Problem {
	return &Problem{
		Rows:        make([][]float64, 0, m),
		Y:           make([]int, 0, m),
		Cost:        make([]float64, 0, m),
		NumFeatures: numFeatures,
	}
}

// Add appends one labeled example.
func (p *Problem) Add(row []float64, y int, cost float64) {
	p.Rows = append(p.Rows, row)
	p.Y = append(p.Y, y)
	p.Cost = append(p.Cost, cost)
	if y > 0 {
		p.Positives++
	} else {
		p.Negatives++
	}
}

// Reset clears the examples while keeping the backing arrays.
func (p *Problem) Reset() {
	p.Rows = p.Rows[:0]
	p.Y = p.Y[:0]
	p.Cost = p.Cost[:0]
	p.Positives = 0
	p.Negatives = 0
}

// Options tunes the solver. The zero value selects the defaults.
type Options struct {
	// Epochs bounds the number of passes over the data; 0 means 50.
	Epochs int
}

const defaultEpochs = 50

// Train minimizes 0.5*||w||^2 + sum_i C_i * max(0, 1 - y_i*(w*x_i + b)) and
// returns a weight vector of length NumFeatures+1 with the bias in the last
// slot. An empty problem yields the all-zero vector.
func Train(p *Problem, opts Options) []float64 {
	w := make([]float64, p.NumFeatures+1)
	if len(p.Rows) == 0 {
		return w
	}
	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = defaultEpochs
	}

	weights := w[:p.NumFeatures]
	t := 0
	for epoch := 0; epoch < epochs; epoch++ {
		for i, row := range p.Rows {
			t++
			eta := 1.0 / (1.0 + float64(t)/float64(len(p.Rows)))
			y := float64(p.Y[i])
			margin := y * (floats.Dot(weights, row[:p.NumFeatures]) + w[p.NumFeatures])

			// regularizer shrinks the weights, not the bias
			decay := 1.0 - eta/float64(len(p.Rows))
			floats.Scale(decay, weights)
			if margin < 1 {
				floats.AddScaled(weights, eta*p.Cost[i]*y, row[:p.NumFeatures])
				w[p.NumFeatures] += eta * p.Cost[i] * y
			}
		}
	}
	return w
}

// Score evaluates w on a feature row, including the bias term.
func Score(row, w []float64) float64 {
	n := len(w) - 1
	return floats.Dot(w[:n], row[:n]) + w[n]
}
