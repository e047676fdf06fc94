package stats

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ranked builds a best-first sequence from alternating booleans.
func ranked(decoys ...bool) []ScoreLabel {
	out := make([]ScoreLabel, len(decoys))
	for i, d := range decoys {
		out[i] = ScoreLabel{Score: float64(len(decoys) - i), IsDecoy: d}
	}
	return out
}

func TestPValues(t *testing.T) {
	// T D T D: first target sees 0 decoys above, second sees 1
	combined := ranked(false, true, false, true)
	got := PValues(combined)
	want := []float64{1.0 / 3.0, 2.0 / 3.0}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("PValues mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckSeparation(t *testing.T) {
	tests := []struct {
		name    string
		decoys  []bool
		nDecoys int
		want    bool
	}{
		{
			name:   "all targets above all decoys",
			decoys: []bool{false, false, false, false, true, true, true, true},
			want:   true,
		},
		{
			name:   "interleaved classes",
			decoys: []bool{false, true, false, true, false, true, false, true},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combined := ranked(tt.decoys...)
			nDecoys := 0
			for _, d := range tt.decoys {
				if d {
					nDecoys++
				}
			}
			pvals := PValues(combined)
			if got := CheckSeparation(pvals, nDecoys); got != tt.want {
				t.Errorf("CheckSeparation = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestQValuesTDC(t *testing.T) {
	// T T D T D D
	combined := ranked(false, false, true, false, true, true)
	got := QValues(combined, 1, false, false)

	// running estimates: 1/1, 1/2, 2/2, 2/3, 3/3, 4/3 (clamped), then
	// right-to-left monotonization pulls the prefix down to 0.5
	want := []float64{0.5, 0.5, 2.0 / 3.0, 2.0 / 3.0, 1, 1}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("QValues mismatch (-want +got):\n%s", diff)
	}
}

func TestQValuesSkipDecoysPlusOne(t *testing.T) {
	combined := ranked(false, false, true)
	got := QValues(combined, 1, false, true)
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("without the +1 the leading targets should get q=0, got %v", got)
	}
}

func TestQValuesMixMax(t *testing.T) {
	// equal class sizes, pi0 = 0.5 halves every estimate
	combined := ranked(false, true, false, true)
	tdcLike := QValues(combined, 1.0, true, false)
	shrunk := QValues(combined, 0.5, true, false)
	for i := range shrunk {
		if !almost(shrunk[i], tdcLike[i]/2) {
			t.Errorf("pi0 shrinkage not linear at %d: %g vs %g", i, shrunk[i], tdcLike[i])
		}
	}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestEstimatePi0Range(t *testing.T) {
	// uniform p-values: everything null
	var uniform []float64
	for i := 1; i <= 100; i++ {
		uniform = append(uniform, float64(i)/100.0)
	}
	pi0 := EstimatePi0(uniform)
	if pi0 < 0.7 || pi0 > 1.0 {
		t.Errorf("uniform p-values should give pi0 near 1, got %g", pi0)
	}

	// strong enrichment near zero: many alternatives
	var enriched []float64
	for i := 1; i <= 80; i++ {
		enriched = append(enriched, 0.001*float64(i)/80.0)
	}
	for i := 1; i <= 20; i++ {
		enriched = append(enriched, float64(i)/20.0)
	}
	pi0 = EstimatePi0(enriched)
	if pi0 > 0.6 {
		t.Errorf("enriched p-values should give small pi0, got %g", pi0)
	}
	if pi0 < 0 || pi0 > 1 {
		t.Errorf("pi0 out of [0,1]: %g", pi0)
	}
}

func TestEstimatePEPMonotone(t *testing.T) {
	// targets dominate the top of the list, decoys the bottom
	var combined []ScoreLabel
	for i := 0; i < 50; i++ {
		combined = append(combined, ScoreLabel{Score: float64(100 - i), IsDecoy: i%5 == 4})
	}
	for i := 0; i < 50; i++ {
		combined = append(combined, ScoreLabel{Score: float64(50 - i), IsDecoy: i%5 != 4})
	}
	peps := EstimatePEP(combined, false, 1)
	if len(peps) != len(combined) {
		t.Fatalf("got %d PEPs for %d entries", len(peps), len(combined))
	}
	for i := range peps {
		if peps[i] < 0 || peps[i] > 1 {
			t.Fatalf("PEP out of range at %d: %g", i, peps[i])
		}
		if i > 0 && peps[i] < peps[i-1] {
			t.Fatalf("PEPs decrease along the ranking at %d: %v", i, peps[i-1:i+1])
		}
	}
	if peps[0] > 0.5 {
		t.Errorf("best score should carry a low PEP, got %g", peps[0])
	}
	if peps[len(peps)-1] < 0.5 {
		t.Errorf("worst score should carry a high PEP, got %g", peps[len(peps)-1])
	}
}
