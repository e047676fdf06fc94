// Package pintab provides a streaming reader for the tab-delimited PSM
// input format: a header row naming the features, an optional
// DefaultDirection row, then one PSM per line with id, label, scan number,
// optional mass columns, the feature values, the peptide and its proteins.
package pintab

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grosenberger/percolator/pkg/core"
)

const maxLineSize = 16 * 1024 * 1024

// Reader provides streaming access to PIN-tab input.
type Reader struct {
	scanner *bufio.Scanner
	lineNum int

	featureNames     []string
	defaultDirection []float64
	expMassCol       int
	calcMassCol      int
	featStart        int

	pending    string
	hasPending bool

	psm      *core.PSM
	label    int
	features []float64
	err      error
}

// NewReader parses the header (and the DefaultDirection row when present)
// and returns a reader positioned at the first PSM.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	rd := &Reader{scanner: scanner, expMassCol: -1, calcMassCol: -1}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty input, expected a PIN header row")
	}
	rd.lineNum++
	if err := rd.parseHeader(scanner.Text()); err != nil {
		return nil, err
	}

	// the first data row may carry an initial direction instead of a PSM
	if scanner.Scan() {
		rd.lineNum++
		line := scanner.Text()
		if strings.HasPrefix(line, "DefaultDirection\t") {
			if err := rd.parseDefaultDirection(line); err != nil {
				return nil, err
			}
		} else {
			rd.pending = line
			rd.hasPending = true
		}
	}
	return rd, nil
}

func (r *Reader) parseHeader(line string) error {
	cols := strings.Split(line, "\t")
	if len(cols) < 5 {
		return fmt.Errorf("header row has %d columns, expected at least id, label, scan, one feature, peptide and proteins", len(cols))
	}
	if !strings.EqualFold(cols[1], "label") {
		return fmt.Errorf("second header column is %q, expected Label", cols[1])
	}
	ix := 3
	if ix < len(cols) && strings.EqualFold(cols[ix], "expmass") {
		r.expMassCol = ix
		ix++
	}
	if ix < len(cols) && strings.EqualFold(cols[ix], "calcmass") {
		r.calcMassCol = ix
		ix++
	}
	r.featStart = ix

	peptideCol := -1
	for j := len(cols) - 1; j >= ix; j-- {
		if strings.EqualFold(cols[j], "peptide") {
			peptideCol = j
			break
		}
	}
	if peptideCol < 0 {
		return fmt.Errorf("header row lacks a Peptide column")
	}
	r.featureNames = cols[ix:peptideCol]
	if len(r.featureNames) == 0 {
		return fmt.Errorf("header row names no features")
	}
	return nil
}

func (r *Reader) parseDefaultDirection(line string) error {
	fields := strings.Split(line, "\t")
	if len(fields) < r.featStart+len(r.featureNames) {
		return fmt.Errorf("line %d: DefaultDirection row is shorter than the feature columns", r.lineNum)
	}
	dir := make([]float64, len(r.featureNames)+1)
	for j := range r.featureNames {
		v, err := strconv.ParseFloat(fields[r.featStart+j], 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid DefaultDirection value %q: %w", r.lineNum, fields[r.featStart+j], err)
		}
		dir[j] = v
	}
	r.defaultDirection = dir
	return nil
}

// FeatureNames returns the feature header.
func (r *Reader) FeatureNames() []string { return r.featureNames }

// DefaultDirection returns the input-supplied direction row, or nil.
func (r *Reader) DefaultDirection() []float64 { return r.defaultDirection }

// Next advances to the next PSM. It returns false at the end of the input or
// on error; Err distinguishes the two.
func (r *Reader) Next() bool {
	var line string
	if r.hasPending {
		line, r.hasPending = r.pending, false
	} else {
		for {
			if !r.scanner.Scan() {
				r.err = r.scanner.Err()
				return false
			}
			r.lineNum++
			line = r.scanner.Text()
			if strings.TrimSpace(line) != "" {
				break
			}
		}
	}
	psm, label, features, err := r.parseRow(line)
	if err != nil {
		r.err = err
		return false
	}
	r.psm, r.label, r.features = psm, label, features
	return true
}

// PSM returns the current PSM with its label and feature values. The feature
// slice is reused between calls.
func (r *Reader) PSM() (*core.PSM, int, []float64) { return r.psm, r.label, r.features }

// Err returns the first error encountered while reading.
func (r *Reader) Err() error { return r.err }

func (r *Reader) parseRow(line string) (*core.PSM, int, []float64, error) {
	fields := strings.Split(line, "\t")
	minCols := r.featStart + len(r.featureNames) + 2
	if len(fields) < minCols {
		return nil, 0, nil, fmt.Errorf("line %d: %d columns, expected at least %d", r.lineNum, len(fields), minCols)
	}

	label, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("line %d: invalid label %q: %w", r.lineNum, fields[1], err)
	}
	scan, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("line %d: invalid scan number %q: %w", r.lineNum, fields[2], err)
	}

	psm := &core.PSM{ID: fields[0], Scan: uint32(scan), Row: -1}
	if r.expMassCol >= 0 {
		if psm.ExpMass, err = strconv.ParseFloat(fields[r.expMassCol], 64); err != nil {
			return nil, 0, nil, fmt.Errorf("line %d: invalid experimental mass %q: %w", r.lineNum, fields[r.expMassCol], err)
		}
	}
	if r.calcMassCol >= 0 {
		if psm.CalcMass, err = strconv.ParseFloat(fields[r.calcMassCol], 64); err != nil {
			return nil, 0, nil, fmt.Errorf("line %d: invalid calculated mass %q: %w", r.lineNum, fields[r.calcMassCol], err)
		}
	}

	if cap(r.features) < len(r.featureNames) {
		r.features = make([]float64, len(r.featureNames))
	}
	features := r.features[:len(r.featureNames)]
	for j := range r.featureNames {
		v, err := strconv.ParseFloat(fields[r.featStart+j], 64)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("line %d: invalid value for feature %s: %w", r.lineNum, r.featureNames[j], err)
		}
		features[j] = v
	}

	peptideCol := r.featStart + len(r.featureNames)
	psm.Peptide = fields[peptideCol]
	psm.ProteinIDs = append([]string(nil), fields[peptideCol+1:]...)
	return psm, label, features, nil
}
