package core

import (
	"errors"
	"fmt"
)

// ErrMissingClass signals that the input contains no targets or no decoys.
var ErrMissingClass = errors.New("input lacks target or decoy PSMs")

type setEntry struct {
	psm   *PSM
	label int
}

// SetHandler owns the ingested PSMs and the feature arena behind them. When
// a subset limit is set, a reservoir sample of the input is kept so that
// training memory stays bounded while the full input can still be re-scored
// in a second streaming pass.
type SetHandler struct {
	cfg     Config
	pool    *FeaturePool
	entries []setEntry
	seen    int

	maxPSMs int
	rng     *Random

	featureNames     []string
	defaultDirection []float64
}

// NewSetHandler creates a handler for rows of width matching cfg. maxPSMs of
// zero keeps every PSM.
func NewSetHandler(cfg Config, maxPSMs int, rng *Random) *SetHandler {
	capacity := 1024
	if maxPSMs > 0 {
		capacity = maxPSMs
	}
	return &SetHandler{
		cfg:     cfg,
		pool:    NewFeaturePool(cfg.TotalFeatures(), capacity),
		maxPSMs: maxPSMs,
		rng:     rng,
	}
}

// Pool exposes the feature arena.
func (h *SetHandler) Pool() *FeaturePool { return h.pool }

// SetFeatureNames records the feature header of the input.
func (h *SetHandler) SetFeatureNames(names []string) { h.featureNames = names }

// FeatureNames returns the feature header of the input.
func (h *SetHandler) FeatureNames() []string { return h.featureNames }

// SetDefaultDirection records a signed one-hot direction from the input
// header, if the input supplied one.
func (h *SetHandler) SetDefaultDirection(dir []float64) { h.defaultDirection = dir }

// DefaultDirection returns the input-supplied direction, or nil.
func (h *SetHandler) DefaultDirection() []float64 { return h.defaultDirection }

// AddPSM ingests a PSM with its label and feature values. Labels outside
// {+1,-1} are rejected. Under a subset limit the handler keeps a uniform
// reservoir sample of everything seen so far.
func (h *SetHandler) AddPSM(psm *PSM, label int, features []float64) error {
	if label != LabelTarget && label != LabelDecoy {
		return fmt.Errorf("PSM %s has label %d outside {1,-1}", psm.ID, label)
	}
	if len(features) != h.cfg.NumFeatures {
		return fmt.Errorf("PSM %s has %d features, expected %d", psm.ID, len(features), h.cfg.NumFeatures)
	}
	h.seen++
	if h.maxPSMs > 0 && len(h.entries) >= h.maxPSMs {
		j := h.rng.Intn(h.seen)
		if j >= h.maxPSMs {
			return nil
		}
		victim := h.entries[j]
		h.pool.Deallocate(victim.psm.Row)
		h.entries[j] = setEntry{psm: psm, label: label}
	} else {
		h.entries = append(h.entries, setEntry{psm: psm, label: label})
	}
	row := h.pool.Alloc(psm)
	copy(h.pool.Row(row), features)
	return nil
}

// Size returns the number of retained PSMs.
func (h *SetHandler) Size() int { return len(h.entries) }

// SizeOf returns the number of retained PSMs with the given label.
func (h *SetHandler) SizeOf(label int) int {
	n := 0
	for _, e := range h.entries {
		if e.label == label {
			n++
		}
	}
	return n
}

// Each calls fn for every retained PSM with its label.
func (h *SetHandler) Each(fn func(psm *PSM, label int)) {
	for _, e := range h.entries {
		fn(e.psm, e.label)
	}
}

// PSMs returns the retained PSMs with the given label, in ingestion order.
func (h *SetHandler) PSMs(label int) []*PSM {
	var out []*PSM
	for _, e := range h.entries {
		if e.label == label {
			out = append(out, e.psm)
		}
	}
	return out
}

// CheckClasses verifies both classes are present.
func (h *SetHandler) CheckClasses() error {
	if h.SizeOf(LabelTarget) == 0 {
		return fmt.Errorf("no target PSMs were provided: %w", ErrMissingClass)
	}
	if h.SizeOf(LabelDecoy) == 0 {
		return fmt.Errorf("no decoy PSMs were provided: %w", ErrMissingClass)
	}
	return nil
}

// NormalizeFeatures fits the normalizer on the ordinary feature columns of
// all retained rows and applies the forward transform to them.
func (h *SetHandler) NormalizeFeatures(norm Normalizer) {
	rows := make([][]float64, 0, len(h.entries))
	for _, e := range h.entries {
		rows = append(rows, h.pool.Row(e.psm.Row))
	}
	norm.Fit(rows, 0, h.cfg.NumFeatures)
	for _, row := range rows {
		norm.Normalize(row, 0, h.cfg.NumFeatures)
	}
}

// NormalizeDocFeatures fits and applies the normalizer on the appended
// retention-time feature columns in a separate pass.
func (h *SetHandler) NormalizeDocFeatures(norm Normalizer) {
	if h.cfg.NumDocFeatures == 0 {
		return
	}
	rows := make([][]float64, 0, len(h.entries))
	for _, e := range h.entries {
		rows = append(rows, h.pool.Row(e.psm.Row))
	}
	norm.Fit(rows, h.cfg.NumFeatures, h.cfg.NumDocFeatures)
	for _, row := range rows {
		norm.Normalize(row, h.cfg.NumFeatures, h.cfg.NumDocFeatures)
	}
}
