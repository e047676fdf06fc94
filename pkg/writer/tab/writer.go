// Package tab writes the tab-separated result files and re-emits the
// computed features in the input's own tabular format.
package tab

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/scores"
)

// ResultHeader is the first row of every result file.
const ResultHeader = "PSMId\tscore\tq-value\tposterior_error_prob\tpeptide\tproteinIds"

// WriteResults writes the holders carrying the given label.
func WriteResults(w io.Writer, set *scores.Scores, label int) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, ResultHeader); err != nil {
		return err
	}
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		if sh.Label != label {
			continue
		}
		if _, err := fmt.Fprintln(bw, sh.TabRow()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// PinOptions controls which optional mass columns the re-emitted input
// carries.
type PinOptions struct {
	WithExpMass  bool
	WithCalcMass bool
	// DefaultDirection, when non-nil, is written as the first data row.
	DefaultDirection []float64
}

// WritePin re-emits the retained PSMs in the tabular input format. Feature
// values are mapped back to raw feature space so the emitted file round
// trips with the input.
func WritePin(w io.Writer, h *core.SetHandler, norm core.Normalizer, cfg core.Config, opts PinOptions) error {
	bw := bufio.NewWriter(w)

	header := []string{"SpecId", "Label", "ScanNr"}
	if opts.WithExpMass {
		header = append(header, "ExpMass")
	}
	if opts.WithCalcMass {
		header = append(header, "CalcMass")
	}
	header = append(header, h.FeatureNames()...)
	header = append(header, "Peptide", "Proteins")
	if _, err := fmt.Fprintln(bw, strings.Join(header, "\t")); err != nil {
		return err
	}

	if opts.DefaultDirection != nil {
		fields := []string{"DefaultDirection", "-", "-"}
		if opts.WithExpMass {
			fields = append(fields, "-")
		}
		if opts.WithCalcMass {
			fields = append(fields, "-")
		}
		for j := range h.FeatureNames() {
			fields = append(fields, formatFloat(opts.DefaultDirection[j]))
		}
		fields = append(fields, "-", "-")
		if _, err := fmt.Fprintln(bw, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}

	raw := make([]float64, cfg.TotalFeatures())
	var writeErr error
	h.Each(func(psm *core.PSM, label int) {
		if writeErr != nil {
			return
		}
		copy(raw, h.Pool().Row(psm.Row))
		norm.Unnormalize(raw, 0, cfg.NumFeatures)

		fields := []string{psm.ID, strconv.Itoa(label), strconv.FormatUint(uint64(psm.Scan), 10)}
		if opts.WithExpMass {
			fields = append(fields, formatFloat(psm.ExpMass))
		}
		if opts.WithCalcMass {
			fields = append(fields, formatFloat(psm.CalcMass))
		}
		for j := 0; j < len(h.FeatureNames()); j++ {
			fields = append(fields, formatFloat(raw[j]))
		}
		fields = append(fields, psm.Peptide)
		fields = append(fields, psm.ProteinIDs...)
		_, writeErr = fmt.Fprintln(bw, strings.Join(fields, "\t"))
	})
	if writeErr != nil {
		return writeErr
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
