// Package osw reads OpenSWATH feature scores from an OSW (SQLite) file. The
// VAR_ columns of the requested data level become the feature vector; decoy
// flags and precursor metadata come from the linked tables.
package osw

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/grosenberger/percolator/pkg/core"
)

// Record is one scored feature with its label and values.
type Record struct {
	PSM      *core.PSM
	Label    int
	Features []float64
}

// Read loads all features of the given level ("MS1", "MS2" or "T" for
// transitions) from an OSW file.
func Read(path, level string) (featureNames []string, records []Record, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open OSW file: %w", err)
	}
	defer db.Close()

	table := "FEATURE_MS2"
	switch level {
	case "MS1":
		table = "FEATURE_MS1"
	case "T":
		table = "FEATURE_TRANSITION"
	case "", "MS2":
		table = "FEATURE_MS2"
	default:
		return nil, nil, fmt.Errorf("unknown OSW level %q, expected MS1, MS2 or T", level)
	}

	varCols, err := variableColumns(db, table)
	if err != nil {
		return nil, nil, err
	}
	if len(varCols) == 0 {
		return nil, nil, fmt.Errorf("table %s carries no VAR_ score columns", table)
	}

	peptides, proteins := precursorAnnotations(db)

	if table == "FEATURE_TRANSITION" {
		records, err = readTransitions(db, varCols, peptides, proteins)
	} else {
		records, err = readPrecursorLevel(db, table, varCols, peptides, proteins)
	}
	if err != nil {
		return nil, nil, err
	}
	return varCols, records, nil
}

// variableColumns lists the VAR_ columns of a feature table in schema order.
func variableColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, "VAR_") {
			cols = append(cols, name)
		}
	}
	return cols, rows.Err()
}

// precursorAnnotations maps precursor ids to peptide sequences and protein
// accessions. Files without the annotation tables yield empty maps.
func precursorAnnotations(db *sql.DB) (map[int64]string, map[int64][]string) {
	peptides := make(map[int64]string)
	proteins := make(map[int64][]string)

	rows, err := db.Query(`
		SELECT PRECURSOR_PEPTIDE_MAPPING.PRECURSOR_ID, PEPTIDE.MODIFIED_SEQUENCE
		FROM PRECURSOR_PEPTIDE_MAPPING
		INNER JOIN PEPTIDE ON PEPTIDE.ID = PRECURSOR_PEPTIDE_MAPPING.PEPTIDE_ID`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var id int64
			var seq string
			if rows.Scan(&id, &seq) == nil {
				peptides[id] = seq
			}
		}
	}

	protRows, err := db.Query(`
		SELECT PRECURSOR_PEPTIDE_MAPPING.PRECURSOR_ID, PROTEIN.PROTEIN_ACCESSION
		FROM PRECURSOR_PEPTIDE_MAPPING
		INNER JOIN PEPTIDE_PROTEIN_MAPPING ON PEPTIDE_PROTEIN_MAPPING.PEPTIDE_ID = PRECURSOR_PEPTIDE_MAPPING.PEPTIDE_ID
		INNER JOIN PROTEIN ON PROTEIN.ID = PEPTIDE_PROTEIN_MAPPING.PROTEIN_ID`)
	if err == nil {
		defer protRows.Close()
		for protRows.Next() {
			var id int64
			var acc string
			if protRows.Scan(&id, &acc) == nil {
				proteins[id] = append(proteins[id], acc)
			}
		}
	}
	return peptides, proteins
}

func readPrecursorLevel(db *sql.DB, table string, varCols []string,
	peptides map[int64]string, proteins map[int64][]string) ([]Record, error) {
	sel := make([]string, 0, len(varCols)+5)
	sel = append(sel, "FEATURE.ID", "FEATURE.PRECURSOR_ID", "PRECURSOR.DECOY",
		"PRECURSOR.PRECURSOR_MZ", "FEATURE.EXP_RT")
	for _, c := range varCols {
		sel = append(sel, "t."+c)
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s t
		INNER JOIN FEATURE ON FEATURE.ID = t.FEATURE_ID
		INNER JOIN PRECURSOR ON PRECURSOR.ID = FEATURE.PRECURSOR_ID
		ORDER BY FEATURE.ID`, strings.Join(sel, ", "), table)
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var featureID, precursorID int64
		var decoy int
		var mz, rt sql.NullFloat64
		vals := make([]sql.NullFloat64, len(varCols))
		dest := []interface{}{&featureID, &precursorID, &decoy, &mz, &rt}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		records = append(records, buildRecord(
			fmt.Sprintf("%d", featureID), precursorID, decoy, mz, rt,
			vals, peptides, proteins))
	}
	return records, rows.Err()
}

func readTransitions(db *sql.DB, varCols []string,
	peptides map[int64]string, proteins map[int64][]string) ([]Record, error) {
	sel := make([]string, 0, len(varCols)+7)
	sel = append(sel, "t.FEATURE_ID", "t.TRANSITION_ID", "FEATURE.PRECURSOR_ID",
		"TRANSITION.DECOY", "PRECURSOR.PRECURSOR_MZ", "FEATURE.EXP_RT")
	for _, c := range varCols {
		sel = append(sel, "t."+c)
	}
	query := fmt.Sprintf(`
		SELECT %s FROM FEATURE_TRANSITION t
		INNER JOIN FEATURE ON FEATURE.ID = t.FEATURE_ID
		INNER JOIN TRANSITION ON TRANSITION.ID = t.TRANSITION_ID
		INNER JOIN PRECURSOR ON PRECURSOR.ID = FEATURE.PRECURSOR_ID
		ORDER BY t.FEATURE_ID, t.TRANSITION_ID`, strings.Join(sel, ", "))
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to read FEATURE_TRANSITION: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var featureID, transitionID, precursorID int64
		var decoy int
		var mz, rt sql.NullFloat64
		vals := make([]sql.NullFloat64, len(varCols))
		dest := []interface{}{&featureID, &transitionID, &precursorID, &decoy, &mz, &rt}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		records = append(records, buildRecord(
			fmt.Sprintf("%d_%d", featureID, transitionID), precursorID,
			decoy, mz, rt, vals, peptides, proteins))
	}
	return records, rows.Err()
}

func buildRecord(id string, precursorID int64, decoy int,
	mz, rt sql.NullFloat64, vals []sql.NullFloat64,
	peptides map[int64]string, proteins map[int64][]string) Record {
	psm := &core.PSM{
		ID:   id,
		Scan: uint32(precursorID),
		Row:  -1,
	}
	if mz.Valid {
		psm.ExpMass = mz.Float64
	}
	if rt.Valid {
		psm.RetentionTime = rt.Float64
	}
	if seq, ok := peptides[precursorID]; ok {
		psm.Peptide = seq
	} else {
		psm.Peptide = fmt.Sprintf("PRECURSOR_%d", precursorID)
	}
	if prots, ok := proteins[precursorID]; ok {
		psm.ProteinIDs = append([]string(nil), prots...)
	}
	label := core.LabelTarget
	if decoy != 0 {
		label = core.LabelDecoy
	}
	features := make([]float64, len(vals))
	for i, v := range vals {
		if v.Valid {
			features[i] = v.Float64
		}
	}
	return Record{PSM: psm, Label: label, Features: features}
}
