// Package sanity validates the input structure before training: whether the
// search was concatenated or separate, whether both classes are present, how
// the initial search direction is chosen, and whether trained weight vectors
// look trustworthy.
package sanity

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/scores"
)

// Check holds the user overlays and the detection result.
type Check struct {
	cfg          core.Config
	featureNames []string

	// InitWeightsPath optionally names a file with one raw-space weight per
	// line used as the initial direction for every fold.
	InitWeightsPath string
	// DefaultDirection optionally names a feature to use as the initial
	// direction; a leading '-' means lower values are better.
	DefaultDirection string
	// DirectionVector optionally carries a full direction row supplied by
	// the input file itself.
	DirectionVector []float64
	// Overrule disables the fallback to the initial direction on suspect
	// trained weights.
	Overrule bool

	concatenated bool
}

// New creates a check for the given feature header.
func New(cfg core.Config, featureNames []string) *Check {
	return &Check{cfg: cfg, featureNames: featureNames}
}

// DetectSearchType inspects (scan, expMass) collisions between targets and
// decoys. A concatenated search yields one PSM per spectrum, so targets and
// decoys never collide; separate searches share their spectra.
func (c *Check) DetectSearchType(h *core.SetHandler) bool {
	type specKey struct {
		scan    uint32
		expMass float64
	}
	targetSpecs := make(map[specKey]bool)
	h.Each(func(psm *core.PSM, label int) {
		if label == core.LabelTarget {
			targetSpecs[specKey{psm.Scan, psm.ExpMass}] = true
		}
	})
	collision := false
	h.Each(func(psm *core.PSM, label int) {
		if label == core.LabelDecoy && targetSpecs[specKey{psm.Scan, psm.ExpMass}] {
			collision = true
		}
	})
	c.concatenated = !collision
	return c.concatenated
}

// Concatenated reports the detection result.
func (c *Check) Concatenated() bool { return c.concatenated }

// ResolveMode applies the user's search-input and estimator flags to the
// detection result and returns the effective statistical mode. At most one
// of mix-max and target-decoy competition is active; with a concatenated
// input both stay off unless explicitly forced.
func ResolveMode(cfg core.Config, concatenated bool, searchInput string, mixMax, tdc bool) (useMixMax, useTDC bool) {
	useMixMax, useTDC = mixMax, tdc
	switch searchInput {
	case "auto", "":
		if concatenated {
			if useMixMax {
				log.Printf("warning: concatenated search input detected, but overridden by the mix-max flag: using mix-max anyway")
			} else {
				cfg.Logf(1, "concatenated search input detected, skipping both target-decoy competition and mix-max")
			}
		} else {
			if useTDC {
				cfg.Logf(1, "separate target and decoy search inputs detected, using target-decoy competition on the learned scores")
			} else {
				useMixMax = true
				cfg.Logf(1, "separate target and decoy search inputs detected, using mix-max method")
			}
		}
	case "separate":
		if concatenated {
			log.Printf("warning: concatenated search input detected, but overridden by the search-input flag specifying separate searches")
		}
	case "concatenated":
		if !concatenated {
			log.Printf("warning: separate search inputs detected, but overridden by the search-input flag specifying a concatenated search")
		}
	}
	return useMixMax, useTDC
}

// InitDirections produces one initial weight vector per training fold. User
// overlays (weight file, named feature) take precedence over the per-feature
// search.
func (c *Check) InitDirections(trainSets []*scores.Scores, selectionFdr float64, norm core.Normalizer, pool *core.FeaturePool) ([][]float64, error) {
	numWeights := c.cfg.TotalFeatures() + 1
	ws := make([][]float64, len(trainSets))

	if c.InitWeightsPath != "" {
		raw, err := readWeights(c.InitWeightsPath, numWeights)
		if err != nil {
			return nil, err
		}
		normalized := make([]float64, numWeights)
		norm.NormalizeWeights(raw, normalized)
		for i := range ws {
			ws[i] = append([]float64(nil), normalized...)
		}
		return ws, nil
	}

	if c.DefaultDirection != "" {
		w, err := c.directionFromName(numWeights)
		if err != nil {
			return nil, err
		}
		for i := range ws {
			ws[i] = append([]float64(nil), w...)
		}
		return ws, nil
	}

	if len(c.DirectionVector) == numWeights {
		for i := range ws {
			ws[i] = append([]float64(nil), c.DirectionVector...)
		}
		return ws, nil
	}

	for i, train := range trainSets {
		w, _, err := train.GetInitDirection(selectionFdr, pool)
		if err != nil {
			return nil, err
		}
		ws[i] = w
	}
	return ws, nil
}

func (c *Check) directionFromName(numWeights int) ([]float64, error) {
	name := c.DefaultDirection
	sign := 1.0
	if strings.HasPrefix(name, "-") {
		sign = -1.0
		name = name[1:]
	}
	for i, fn := range c.featureNames {
		if fn == name {
			w := make([]float64, numWeights)
			w[i] = sign
			return w, nil
		}
	}
	return nil, fmt.Errorf("default direction feature %q not found in the input header", name)
}

func readWeights(path string, numWeights int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open initial weights file: %w", err)
	}
	defer f.Close()

	var w []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q in initial weights file: %w", line, err)
		}
		w = append(w, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(w) != numWeights {
		return nil, fmt.Errorf("initial weights file holds %d values, expected %d", len(w), numWeights)
	}
	return w, nil
}

// ValidateDirection reports whether the trained per-fold weight vectors are
// usable. Vectors whose feature weights are all zero (the trailing bias is
// not counted) or that hold non-finite values are suspect; with Overrule set they
// are accepted anyway.
func (c *Check) ValidateDirection(ws [][]float64) bool {
	if c.Overrule {
		return true
	}
	for _, w := range ws {
		allZero := true
		for i, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
			if i < len(w)-1 && v != 0 {
				allZero = false
			}
		}
		if allZero {
			return false
		}
	}
	return true
}
