// Package core provides the data model shared by the whole pipeline:
// peptide-spectrum matches, their scored wrappers, the feature arena and
// the normalizers applied to it.
package core

import (
	"fmt"
	"strings"
)

// Labels attached to ScoreHolders. Anything else is refused.
const (
	LabelTarget = 1
	LabelDecoy  = -1
)

// PSM represents a single peptide-spectrum match as read from the input.
// The struct is immutable after ingestion except for Row, which the feature
// pool rebinds when rows are moved.
type PSM struct {
	ID         string
	Scan       uint32
	ExpMass    float64
	CalcMass   float64
	Peptide    string // full notation with flanking residues, e.g. "K.PEPTIDER.A"
	ProteinIDs []string

	// Observed retention time, used by the retention-time model.
	RetentionTime float64

	// Row indexes this PSM's feature vector in the FeaturePool.
	// -1 once the row has been released.
	Row int
}

// Sequence returns the peptide sequence without flanking residues.
func (p *PSM) Sequence() string {
	if len(p.Peptide) >= 4 && p.Peptide[1] == '.' && p.Peptide[len(p.Peptide)-2] == '.' {
		return p.Peptide[2 : len(p.Peptide)-2]
	}
	return p.Peptide
}

// FlankN returns the N-terminal flanking residue, or "-" if absent.
func (p *PSM) FlankN() string {
	if len(p.Peptide) >= 4 && p.Peptide[1] == '.' {
		return p.Peptide[:1]
	}
	return "-"
}

// FlankC returns the C-terminal flanking residue, or "-" if absent.
func (p *PSM) FlankC() string {
	if len(p.Peptide) >= 4 && p.Peptide[len(p.Peptide)-2] == '.' {
		return p.Peptide[len(p.Peptide)-1:]
	}
	return "-"
}

// FeatureID returns the identifier used when writing scores back into an
// OSW file. For transition-level input the ID holds "featureID_transitionID";
// the feature part is the prefix.
func (p *PSM) FeatureID() string {
	if ix := strings.IndexByte(p.ID, '_'); ix > 0 {
		return p.ID[:ix]
	}
	return p.ID
}

// ScoreHolder wraps a PSM with its mutable statistics. Holders are value
// types; the PSM behind them is shared and owned by the SetHandler.
type ScoreHolder struct {
	PSM   *PSM
	Score float64
	Q     float64
	PEP   float64
	P     float64
	Label int
}

// IsTarget reports whether the holder is labeled as a target match.
func (s *ScoreHolder) IsTarget() bool { return s.Label == LabelTarget }

// IsDecoy reports whether the holder is labeled as a decoy match.
func (s *ScoreHolder) IsDecoy() bool { return s.Label == LabelDecoy }

// TabRow renders the holder as a line for the tab-separated result output.
func (s *ScoreHolder) TabRow() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%g\t%g\t%g\t%s", s.PSM.ID, s.Score, s.Q, s.PEP, s.PSM.Peptide)
	for _, prot := range s.PSM.ProteinIDs {
		b.WriteByte('\t')
		b.WriteString(prot)
	}
	return b.String()
}

// Greater is the strict total order used for ranking: score descending,
// then scan, experimental mass and label, all descending. The multi-key
// tie-break keeps the order deterministic regardless of insertion order.
func Greater(a, b *ScoreHolder) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.PSM.Scan != b.PSM.Scan {
		return a.PSM.Scan > b.PSM.Scan
	}
	if a.PSM.ExpMass != b.PSM.ExpMass {
		return a.PSM.ExpMass > b.PSM.ExpMass
	}
	return a.Label > b.Label
}

// Less is the inverse of Greater, used where ascending order is needed.
func Less(a, b *ScoreHolder) bool { return Greater(b, a) }
