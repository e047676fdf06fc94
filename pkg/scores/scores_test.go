package scores

import (
	"math"
	"testing"

	"github.com/grosenberger/percolator/pkg/core"
)

func testConfig(numFeatures int) core.Config {
	return core.Config{NumFeatures: numFeatures}
}

// buildSet allocates pool rows for the given feature values and wraps them
// as holders of a fresh score set.
func buildSet(t *testing.T, cfg core.Config, rows [][]float64, labels []int, scans []uint32) (*Scores, *core.FeaturePool) {
	t.Helper()
	pool := core.NewFeaturePool(cfg.TotalFeatures(), len(rows))
	set := New(cfg, false)
	for i, values := range rows {
		psm := &core.PSM{ID: string(rune('A' + i%26)) + "_" + string(rune('0'+i/26)), Scan: scans[i], Row: -1}
		row := pool.Alloc(psm)
		copy(pool.Row(row), values)
		set.Append(core.ScoreHolder{PSM: psm, Label: labels[i]})
	}
	set.RecalculateSizes()
	return set, pool
}

func TestPostMergeStepInvariants(t *testing.T) {
	cfg := testConfig(1)
	cfg.NoTerminate = true
	rows := make([][]float64, 40)
	labels := make([]int, 40)
	scans := make([]uint32, 40)
	for i := range rows {
		rows[i] = []float64{float64((i * 17) % 23)}
		labels[i] = core.LabelTarget
		if i%2 == 1 {
			labels[i] = core.LabelDecoy
		}
		scans[i] = uint32(i)
	}
	set, pool := buildSet(t, cfg, rows, labels, scans)
	w := []float64{1, 0}
	set.CalcScores(w, 0.01, pool)
	if err := set.PostMergeStep(); err != nil {
		t.Fatalf("PostMergeStep: %v", err)
	}

	if set.PosSize()+set.NegSize() != set.Size() {
		t.Errorf("class counts %d+%d do not sum to size %d", set.PosSize(), set.NegSize(), set.Size())
	}
	holders := set.Holders()
	for i := 1; i < len(holders); i++ {
		if core.Greater(&holders[i], &holders[i-1]) {
			t.Fatalf("sequence not non-increasing at %d", i)
		}
	}
}

func TestCreateXvalSetsBySpectrum(t *testing.T) {
	cfg := testConfig(1)
	const numScans = 10
	const psmsPerScan = 3
	var rows [][]float64
	var labels []int
	var scans []uint32
	for scan := 0; scan < numScans; scan++ {
		for j := 0; j < psmsPerScan; j++ {
			rows = append(rows, []float64{float64(scan*psmsPerScan + j)})
			label := core.LabelTarget
			if j == psmsPerScan-1 {
				label = core.LabelDecoy
			}
			labels = append(labels, label)
			scans = append(scans, uint32(scan+1))
		}
	}
	set, pool := buildSet(t, cfg, rows, labels, scans)
	rng := core.NewRandom(1)
	train, test := set.CreateXvalSetsBySpectrum(3, pool, rng)

	testFold := make(map[*core.PSM]int)
	total := 0
	for f, ts := range test {
		for i := range ts.Holders() {
			psm := ts.Holders()[i].PSM
			if prev, seen := testFold[psm]; seen {
				t.Fatalf("PSM in two test folds: %d and %d", prev, f)
			}
			testFold[psm] = f
		}
		total += ts.Size()
	}
	if total != set.Size() {
		t.Fatalf("test folds hold %d PSMs, want %d", total, set.Size())
	}

	// PSMs of one scan share the test fold
	scanFold := make(map[uint32]int)
	for psm, fold := range testFold {
		if prev, seen := scanFold[psm.Scan]; seen && prev != fold {
			t.Errorf("scan %d split across folds %d and %d", psm.Scan, prev, fold)
		}
		scanFold[psm.Scan] = fold
	}

	// each PSM trains the two other folds
	for f, tr := range train {
		if tr.Size() != set.Size()-test[f].Size() {
			t.Errorf("fold %d: train size %d, want %d", f, tr.Size(), set.Size()-test[f].Size())
		}
		for i := range tr.Holders() {
			if testFold[tr.Holders()[i].PSM] == f {
				t.Fatalf("fold %d trains on its own test PSM", f)
			}
		}
	}
}

func TestXvalSplitReproducible(t *testing.T) {
	build := func() map[string]int {
		cfg := testConfig(1)
		var rows [][]float64
		var labels []int
		var scans []uint32
		for i := 0; i < 30; i++ {
			rows = append(rows, []float64{float64(i)})
			labels = append(labels, core.LabelTarget)
			scans = append(scans, uint32(i))
		}
		set, pool := buildSet(t, cfg, rows, labels, scans)
		_, test := set.CreateXvalSetsBySpectrum(3, pool, core.NewRandom(5))
		folds := make(map[string]int)
		for f, ts := range test {
			for i := range ts.Holders() {
				folds[ts.Holders()[i].PSM.ID] = f
			}
		}
		return folds
	}
	a, b := build(), build()
	for id, fold := range a {
		if b[id] != fold {
			t.Fatalf("fold assignment differs for %s under identical seed", id)
		}
	}
}

func TestWeedOutRedundant(t *testing.T) {
	cfg := testConfig(1)
	cfg.NoTerminate = true
	set := New(cfg, false)
	mk := func(id, peptide string, label int, score float64) core.ScoreHolder {
		return core.ScoreHolder{
			PSM:   &core.PSM{ID: id, Peptide: peptide, Row: -1},
			Label: label,
			Score: score,
		}
	}
	set.Append(mk("p1", "K.AAA.R", core.LabelTarget, 2.0))
	set.Append(mk("p2", "K.AAA.R", core.LabelTarget, 5.0))
	set.Append(mk("p3", "K.AAA.R", core.LabelDecoy, 3.0))
	set.Append(mk("p4", "K.BBB.R", core.LabelTarget, 1.0))
	set.RecalculateSizes()

	if err := set.WeedOutRedundant(); err != nil {
		t.Fatalf("WeedOutRedundant: %v", err)
	}

	type key struct {
		peptide string
		label   int
	}
	seen := make(map[key]*core.ScoreHolder)
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		k := key{sh.PSM.Peptide, sh.Label}
		if seen[k] != nil {
			t.Fatalf("(peptide,label) %v appears twice", k)
		}
		seen[k] = sh
	}
	best := seen[key{"K.AAA.R", core.LabelTarget}]
	if best == nil || best.Score != 5.0 {
		t.Fatalf("retained target for K.AAA.R is not the best scoring one: %+v", best)
	}
	psms := set.PeptidePSMs(best.PSM)
	if len(psms) != 2 {
		t.Fatalf("peptide map lists %d PSMs, want 2", len(psms))
	}
	ids := map[string]bool{psms[0].ID: true, psms[1].ID: true}
	if !ids["p1"] || !ids["p2"] {
		t.Errorf("peptide map should list p1 and p2, got %v", ids)
	}
}

func TestWeedOutRedundantTDC(t *testing.T) {
	cfg := testConfig(1)
	cfg.NoTerminate = true
	set := New(cfg, false)
	mk := func(id string, scan uint32, mass, score float64, label int) core.ScoreHolder {
		return core.ScoreHolder{
			PSM:   &core.PSM{ID: id, Scan: scan, ExpMass: mass, Row: -1},
			Label: label,
			Score: score,
		}
	}
	set.Append(mk("t1", 1, 500.0, 3.0, core.LabelTarget))
	set.Append(mk("d1", 1, 500.0, 4.0, core.LabelDecoy))
	set.Append(mk("t2", 1, 600.0, 1.0, core.LabelTarget))
	set.Append(mk("t3", 2, 500.0, 2.0, core.LabelTarget))
	set.RecalculateSizes()

	if err := set.WeedOutRedundantTDC(); err != nil {
		t.Fatalf("WeedOutRedundantTDC: %v", err)
	}
	if set.Size() != 3 {
		t.Fatalf("size after competition = %d, want 3", set.Size())
	}
	type key struct {
		scan uint32
		mass float64
	}
	seen := make(map[key]string)
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		k := key{sh.PSM.Scan, sh.PSM.ExpMass}
		if prev, ok := seen[k]; ok {
			t.Fatalf("(scan,expMass) %v kept twice: %s and %s", k, prev, sh.PSM.ID)
		}
		seen[k] = sh.PSM.ID
	}
	if seen[key{1, 500.0}] != "d1" {
		t.Errorf("competition on scan 1 should keep the higher scoring d1, kept %s", seen[key{1, 500.0}])
	}
}

func TestNormalizeScores(t *testing.T) {
	cfg := testConfig(1)
	set := New(cfg, false)
	mk := func(score, q float64, label int) core.ScoreHolder {
		return core.ScoreHolder{PSM: &core.PSM{Row: -1}, Label: label, Score: score, Q: q}
	}
	set.Append(mk(4, 0.0, core.LabelTarget))
	set.Append(mk(3, 0.1, core.LabelTarget))
	set.Append(mk(2, 0.6, core.LabelDecoy))
	set.Append(mk(1, 0.9, core.LabelDecoy))
	set.RecalculateSizes()

	set.NormalizeScores(0.5)

	want := []float64{1, 0, -1, -2}
	for i := range want {
		if math.Abs(set.Holders()[i].Score-want[i]) > 1e-12 {
			t.Errorf("score %d = %g, want %g", i, set.Holders()[i].Score, want[i])
		}
	}
}

func TestGetInitDirection(t *testing.T) {
	cfg := testConfig(2)
	var rows [][]float64
	var labels []int
	var scans []uint32
	for i := 0; i < 20; i++ {
		// feature 0 separates the classes, feature 1 is noise
		target := i < 10
		feat0 := float64(i)
		noise := float64((i * 7) % 5)
		if target {
			feat0 += 100
			labels = append(labels, core.LabelTarget)
		} else {
			labels = append(labels, core.LabelDecoy)
		}
		rows = append(rows, []float64{feat0, noise})
		scans = append(scans, uint32(i))
	}
	set, pool := buildSet(t, cfg, rows, labels, scans)

	direction, positives, err := set.GetInitDirection(0.05, pool)
	if err != nil {
		t.Fatalf("GetInitDirection: %v", err)
	}
	if positives <= 0 {
		t.Fatalf("no positives found, want > 0")
	}
	if direction[0] != 1 || direction[1] != 0 {
		t.Errorf("direction = %v, want +1 on feature 0 only", direction)
	}
}

func TestGetInitDirectionNoPositives(t *testing.T) {
	cfg := testConfig(1)
	var rows [][]float64
	var labels []int
	var scans []uint32
	for i := 0; i < 10; i++ {
		// targets hold 0 and decoys 1 on the only feature; at an FDR
		// threshold of 0 no q-value falls below it, so no direction
		// yields positives
		rows = append(rows, []float64{float64(i % 2)})
		label := core.LabelTarget
		if i%2 == 1 {
			label = core.LabelDecoy
		}
		labels = append(labels, label)
		scans = append(scans, uint32(i))
	}
	set, pool := buildSet(t, cfg, rows, labels, scans)

	if _, _, err := set.GetInitDirection(0.0, pool); err == nil {
		t.Fatalf("expected an error when no direction separates positives")
	}

	cfgNT := cfg
	cfgNT.NoTerminate = true
	setNT, poolNT := buildSet(t, cfgNT, rows, labels, scans)
	direction, _, err := setNT.GetInitDirection(0.0, poolNT)
	if err != nil {
		t.Fatalf("no-terminate should continue, got %v", err)
	}
	if direction[0] == 0 {
		t.Errorf("no-terminate fallback should use the first feature")
	}
}
