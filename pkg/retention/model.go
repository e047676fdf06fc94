// Package retention models the retention time of confidently identified
// peptides and derives the description-of-correct features: how far a match
// deviates from the behavior expected of a correct identification.
package retention

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/grosenberger/percolator/pkg/core"
)

// NumFeatures is the number of description-of-correct features appended
// after the ordinary features: the absolute retention-time deviation and the
// absolute relative mass error.
const NumFeatures = 2

// Kyte-Doolittle hydropathy index.
var hydropathy = map[byte]float64{
	'A': 1.8, 'R': -4.5, 'N': -3.5, 'D': -3.5, 'C': 2.5,
	'E': -3.5, 'Q': -3.5, 'G': -0.4, 'H': -3.2, 'I': 4.5,
	'L': 3.8, 'K': -3.9, 'M': 1.9, 'F': 2.8, 'P': -1.6,
	'S': -0.8, 'T': -0.7, 'W': -0.9, 'Y': -1.3, 'V': 4.2,
}

const residues = "ACDEFGHIKLMNPQRSTVWY"

// Model predicts retention time from peptide composition by linear least
// squares. The Klammer dialect adds terminal-residue hydropathy terms.
type Model struct {
	klammer bool
	beta    *mat.VecDense
	meanRT  float64
	trained bool
	psms    []*core.PSM
}

// NewModel creates an untrained model.
func NewModel(klammer bool) *Model {
	return &Model{klammer: klammer}
}

// Clear drops the registered training peptides and the fitted coefficients.
func (m *Model) Clear() {
	m.psms = m.psms[:0]
	m.trained = false
}

// Register adds a confidently identified PSM to the training set.
func (m *Model) Register(psm *core.PSM) {
	m.psms = append(m.psms, psm)
}

func (m *Model) dim() int {
	// intercept + hydropathy sum + length + per-residue fractions
	d := 2 + 1 + len(residues)
	if m.klammer {
		d += 2
	}
	return d
}

func (m *Model) regressors(sequence string, dst []float64) {
	dst[0] = 1
	var kd float64
	counts := make([]float64, len(residues))
	for i := 0; i < len(sequence); i++ {
		kd += hydropathy[sequence[i]]
		for j := 0; j < len(residues); j++ {
			if sequence[i] == residues[j] {
				counts[j]++
				break
			}
		}
	}
	n := math.Max(1, float64(len(sequence)))
	dst[1] = kd
	dst[2] = float64(len(sequence))
	for j, c := range counts {
		dst[3+j] = c / n
	}
	if m.klammer && len(sequence) > 0 {
		dst[3+len(residues)] = hydropathy[sequence[0]]
		dst[4+len(residues)] = hydropathy[sequence[len(sequence)-1]]
	}
}

// Train fits the regression on the registered PSMs. With fewer training
// peptides than regressors the model falls back to predicting the mean
// retention time.
func (m *Model) Train() error {
	if len(m.psms) == 0 {
		return errors.New("no confident identifications to train retention model on")
	}
	var sum float64
	for _, psm := range m.psms {
		sum += psm.RetentionTime
	}
	m.meanRT = sum / float64(len(m.psms))

	d := m.dim()
	m.beta = nil
	m.trained = true
	if len(m.psms) < d {
		return nil
	}

	x := mat.NewDense(len(m.psms), d, nil)
	y := mat.NewVecDense(len(m.psms), nil)
	row := make([]float64, d)
	for i, psm := range m.psms {
		m.regressors(psm.Sequence(), row)
		x.SetRow(i, row)
		y.SetVec(i, psm.RetentionTime)
	}

	// ridge-regularized normal equations; the composition fractions are
	// collinear with the intercept, so a plain least-squares solve is
	// rank deficient
	const lambda = 1e-3
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := xtx.At(i, j)
			if i == j {
				v += lambda
			}
			sym.SetSym(i, j, v)
		}
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil
	}
	beta := mat.NewVecDense(d, nil)
	if err := chol.SolveVecTo(beta, &xty); err != nil {
		return nil
	}
	m.beta = beta
	return nil
}

// EstimateRT predicts the retention time of a peptide sequence.
func (m *Model) EstimateRT(sequence string) float64 {
	if !m.trained || m.beta == nil {
		return m.meanRT
	}
	row := make([]float64, m.dim())
	m.regressors(sequence, row)
	var rt float64
	for i, b := range m.beta.RawVector().Data {
		rt += b * row[i]
	}
	return rt
}

// SetFeatures writes the description-of-correct features of a PSM into its
// feature row starting at offset.
func (m *Model) SetFeatures(psm *core.PSM, row []float64, offset int) {
	row[offset] = math.Abs(psm.RetentionTime - m.EstimateRT(psm.Sequence()))
	dm := 0.0
	if psm.CalcMass != 0 {
		dm = (psm.ExpMass - psm.CalcMass) / psm.CalcMass * 1e6
	}
	row[offset+1] = math.Abs(dm)
}
