// Package sqlite writes the computed statistics back into an OSW (SQLite)
// file, replacing the score table of the requested data level.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/grosenberger/percolator/pkg/scores"
)

// Writer handles writing score tables into an OSW database.
type Writer struct {
	db            *sql.DB
	table         string
	hasTransition bool
	stmt          *sql.Stmt
}

// NewWriter opens the OSW file and recreates the score table for the given
// level ("MS1", "MS2" or "T"). Any previous table of that level is dropped.
func NewWriter(path, level string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OSW database: %w", err)
	}

	w := &Writer{db: db}
	switch level {
	case "MS1":
		w.table = "SCORE_MS1"
	case "T":
		w.table = "SCORE_TRANSITION"
		w.hasTransition = true
	default:
		w.table = "SCORE_MS2"
	}

	if err := w.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	if err := w.prepareStatement(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) createTable() error {
	var schema string
	if w.hasTransition {
		schema = fmt.Sprintf(`
	DROP TABLE IF EXISTS %[1]s;
	CREATE TABLE %[1]s (
		FEATURE_ID TEXT NOT NULL,
		TRANSITION_ID TEXT NOT NULL,
		SCORE DOUBLE NOT NULL,
		QVALUE DOUBLE NOT NULL,
		PEP DOUBLE NOT NULL
	);`, w.table)
	} else {
		schema = fmt.Sprintf(`
	DROP TABLE IF EXISTS %[1]s;
	CREATE TABLE %[1]s (
		FEATURE_ID TEXT NOT NULL,
		SCORE DOUBLE NOT NULL,
		QVALUE DOUBLE NOT NULL,
		PEP DOUBLE NOT NULL
	);`, w.table)
	}
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

func (w *Writer) prepareStatement() error {
	var err error
	if w.hasTransition {
		w.stmt, err = w.db.Prepare(fmt.Sprintf(
			"INSERT INTO %s (FEATURE_ID, TRANSITION_ID, SCORE, QVALUE, PEP) VALUES (?, ?, ?, ?, ?)", w.table))
	} else {
		w.stmt, err = w.db.Prepare(fmt.Sprintf(
			"INSERT INTO %s (FEATURE_ID, SCORE, QVALUE, PEP) VALUES (?, ?, ?, ?)", w.table))
	}
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	return nil
}

// WriteScores inserts every holder of the set inside one transaction.
func (w *Writer) WriteScores(set *scores.Scores) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt := tx.Stmt(w.stmt)
	for i := range set.Holders() {
		sh := &set.Holders()[i]
		if w.hasTransition {
			featureID, transitionID := splitTransitionID(sh.PSM.ID)
			_, err = stmt.Exec(featureID, transitionID, sh.Score, sh.Q, sh.PEP)
		} else {
			_, err = stmt.Exec(sh.PSM.FeatureID(), sh.Score, sh.Q, sh.PEP)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert score: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}
	return nil
}

// splitTransitionID separates the merged "featureID_transitionID" form.
func splitTransitionID(id string) (string, string) {
	if ix := strings.IndexByte(id, '_'); ix > 0 {
		return id[:ix], id[ix+1:]
	}
	return id, ""
}

// Close releases the prepared statement and the database handle.
func (w *Writer) Close() error {
	if w.stmt != nil {
		w.stmt.Close()
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
