// Package pout writes the XML result document with one element per PSM and,
// when peptide statistics were computed, one element per unique peptide.
package pout

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/grosenberger/percolator/pkg/core"
	"github.com/grosenberger/percolator/pkg/scores"
)

// Writer emits the XML output document.
type Writer struct {
	w            *bufio.Writer
	PrintDecoys  bool
	PrintExpMass bool
}

// NewWriter wraps the destination stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), PrintExpMass: true}
}

// Begin writes the document head, recording the command line that produced
// the results.
func (x *Writer) Begin(call string) error {
	if _, err := fmt.Fprintln(x.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return err
	}
	fmt.Fprintln(x.w, `<percolator_output xmlns:p="http://per-colator.com/percolator_out/15">`)
	fmt.Fprintf(x.w, "  <process_info command_line=\"%s\"/>\n", escape(call))
	return nil
}

// End closes the document and flushes the stream.
func (x *Writer) End() error {
	fmt.Fprintln(x.w, `</percolator_output>`)
	return x.w.Flush()
}

// WritePSMs emits one psm element per holder.
func (x *Writer) WritePSMs(set *scores.Scores) error {
	fmt.Fprintln(x.w, "  <psms>")
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		if sh.IsDecoy() && !x.PrintDecoys {
			continue
		}
		x.writePSM(sh)
	}
	fmt.Fprintln(x.w, "  </psms>")
	return nil
}

func (x *Writer) writePSM(sh *core.ScoreHolder) {
	fmt.Fprintf(x.w, "    <psm p:psm_id=\"%s\"", escape(sh.PSM.ID))
	if x.PrintDecoys {
		fmt.Fprintf(x.w, " p:decoy=\"%t\"", sh.IsDecoy())
	}
	fmt.Fprintln(x.w, ">")
	fmt.Fprintf(x.w, "      <svm_score>%f</svm_score>\n", sh.Score)
	fmt.Fprintf(x.w, "      <q_value>%e</q_value>\n", sh.Q)
	fmt.Fprintf(x.w, "      <pep>%e</pep>\n", sh.PEP)
	if x.PrintExpMass {
		fmt.Fprintf(x.w, "      <exp_mass>%.4f</exp_mass>\n", sh.PSM.ExpMass)
	}
	fmt.Fprintf(x.w, "      <calc_mass>%.3f</calc_mass>\n", sh.PSM.CalcMass)
	if seq := sh.PSM.Sequence(); seq != "" {
		fmt.Fprintf(x.w, "      <peptide_seq n=\"%s\" c=\"%s\" seq=\"%s\"/>\n",
			escape(sh.PSM.FlankN()), escape(sh.PSM.FlankC()), escape(seq))
	}
	for _, prot := range sh.PSM.ProteinIDs {
		fmt.Fprintf(x.w, "      <protein_id>%s</protein_id>\n", escape(prot))
	}
	fmt.Fprintf(x.w, "      <p_value>%e</p_value>\n", sh.P)
	fmt.Fprintln(x.w, "    </psm>")
}

// WritePeptides emits one peptide element per holder of the peptide-unique
// set, listing the PSMs collapsed into it.
func (x *Writer) WritePeptides(set *scores.Scores) error {
	fmt.Fprintln(x.w, "  <peptides>")
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		if sh.IsDecoy() && !x.PrintDecoys {
			continue
		}
		x.writePeptide(sh, set)
	}
	fmt.Fprintln(x.w, "  </peptides>")
	return nil
}

func (x *Writer) writePeptide(sh *core.ScoreHolder, set *scores.Scores) {
	fmt.Fprintf(x.w, "    <peptide p:peptide_id=\"%s\"", escape(sh.PSM.Sequence()))
	if x.PrintDecoys {
		fmt.Fprintf(x.w, " p:decoy=\"%t\"", sh.IsDecoy())
	}
	fmt.Fprintln(x.w, ">")
	fmt.Fprintf(x.w, "      <svm_score>%f</svm_score>\n", sh.Score)
	fmt.Fprintf(x.w, "      <q_value>%e</q_value>\n", sh.Q)
	fmt.Fprintf(x.w, "      <pep>%e</pep>\n", sh.PEP)
	if x.PrintExpMass {
		fmt.Fprintf(x.w, "      <exp_mass>%.4f</exp_mass>\n", sh.PSM.ExpMass)
	}
	fmt.Fprintf(x.w, "      <calc_mass>%.3f</calc_mass>\n", sh.PSM.CalcMass)
	for _, prot := range sh.PSM.ProteinIDs {
		fmt.Fprintf(x.w, "      <protein_id>%s</protein_id>\n", escape(prot))
	}
	fmt.Fprintf(x.w, "      <p_value>%e</p_value>\n", sh.P)
	fmt.Fprintln(x.w, "      <psm_ids>")
	for _, psm := range set.PeptidePSMs(sh.PSM) {
		fmt.Fprintf(x.w, "        <psm_id>%s</psm_id>\n", escape(psm.ID))
	}
	fmt.Fprintln(x.w, "      </psm_ids>")
	fmt.Fprintln(x.w, "    </peptide>")
}

// escape renders a string safe for element content and attribute values,
// dropping control characters and all non-ASCII runes.
func escape(s string) string {
	var clean strings.Builder
	for _, r := range s {
		if r >= 32 && r < 127 {
			clean.WriteRune(r)
		}
	}
	var buf strings.Builder
	xml.EscapeText(&buf, []byte(clean.String()))
	return buf.String()
}
