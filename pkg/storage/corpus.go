// Package storage persists the reference corpus, prediction results and the
// bond observation journal.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
)

// ReferenceEntry is one structure of the reference corpus.
type ReferenceEntry struct {
	ID         string
	Structure  *crystal.Structure
	Volume     float64
	EAboveHull float64
	NElements  int
}

// Corpus supplies reference structures with at most maxElements distinct
// elements and an energy above hull strictly below eAboveHull (eV/atom).
// maxElements <= 0 means no element limit.
type Corpus interface {
	Query(maxElements int, eAboveHull float64) ([]ReferenceEntry, error)
}

// ResultSink receives batch prediction rows.
type ResultSink interface {
	WriteResults(rows []common.ResultRow) error
}

// SQLiteCorpus keeps reference structures and prediction results in one
// SQLite database.
type SQLiteCorpus struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ Corpus     = (*SQLiteCorpus)(nil)
	_ ResultSink = (*SQLiteCorpus)(nil)
)

func OpenSQLiteCorpus(path string) (*SQLiteCorpus, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS reference_structures (
		task_id      TEXT PRIMARY KEY,
		formula      TEXT NOT NULL,
		nelements    INTEGER NOT NULL,
		e_above_hull REAL NOT NULL,
		volume       REAL NOT NULL,
		structure    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reference_filter ON reference_structures (nelements, e_above_hull);
	CREATE TABLE IF NOT EXISTS predictions (
		task_id          TEXT PRIMARY KEY,
		formula          TEXT NOT NULL,
		starting_volume  REAL NOT NULL,
		predicted_volume REAL NOT NULL,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		logging.Logger().Warn("failed to set sqlite pragmas", "err", err)
	}

	return &SQLiteCorpus{db: db}, nil
}

const upsertReference = `INSERT OR REPLACE INTO reference_structures
	(task_id, formula, nelements, e_above_hull, volume, structure) VALUES (?, ?, ?, ?, ?, ?)`

func referenceArgs(e ReferenceEntry) ([]any, error) {
	if e.ID == "" || e.Structure == nil {
		return nil, errors.New("reference entry needs an id and a structure")
	}
	blob, err := e.Structure.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.ID, err)
	}
	volume := e.Volume
	if volume == 0 {
		volume = e.Structure.Volume()
	}
	nelements := e.NElements
	if nelements == 0 {
		nelements = len(e.Structure.Composition())
	}
	return []any{e.ID, e.Structure.ReducedFormula(), nelements, e.EAboveHull, volume, string(blob)}, nil
}

func (s *SQLiteCorpus) Put(e ReferenceEntry) error {
	args, err := referenceArgs(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(upsertReference, args...)
	return err
}

func (s *SQLiteCorpus) BatchPut(entries []ReferenceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(upsertReference)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		args, err := referenceArgs(e)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteCorpus) Get(id string) (ReferenceEntry, bool, error) {
	row := s.db.QueryRow(`SELECT task_id, nelements, e_above_hull, volume, structure
		FROM reference_structures WHERE task_id = ?`, id)
	e, err := scanReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReferenceEntry{}, false, nil
	}
	if err != nil {
		return ReferenceEntry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteCorpus) Query(maxElements int, eAboveHull float64) ([]ReferenceEntry, error) {
	if maxElements <= 0 {
		maxElements = int(^uint32(0) >> 1)
	}
	rows, err := s.db.Query(`SELECT task_id, nelements, e_above_hull, volume, structure
		FROM reference_structures WHERE nelements <= ? AND e_above_hull < ? ORDER BY task_id ASC`,
		maxElements, eAboveHull)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ReferenceEntry
	for rows.Next() {
		e, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReference(row scanner) (ReferenceEntry, error) {
	var e ReferenceEntry
	var blob string
	if err := row.Scan(&e.ID, &e.NElements, &e.EAboveHull, &e.Volume, &blob); err != nil {
		return ReferenceEntry{}, err
	}
	st, err := crystal.FromJSON([]byte(blob))
	if err != nil {
		return ReferenceEntry{}, fmt.Errorf("decode %s: %w", e.ID, err)
	}
	e.Structure = st
	return e, nil
}

func (s *SQLiteCorpus) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM reference_structures").Scan(&n)
	return n, err
}

func (s *SQLiteCorpus) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM reference_structures")
	return err
}

// WriteResults upserts prediction rows into the predictions table.
func (s *SQLiteCorpus) WriteResults(rows []common.ResultRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO predictions
		(task_id, formula, starting_volume, predicted_volume) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.TaskID, r.ReducedFormula, r.StartingVolume, r.PredictedVolume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteCorpus) Results() ([]common.ResultRow, error) {
	rows, err := s.db.Query(`SELECT task_id, formula, starting_volume, predicted_volume
		FROM predictions ORDER BY task_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ResultRow
	for rows.Next() {
		var r common.ResultRow
		if err := rows.Scan(&r.TaskID, &r.ReducedFormula, &r.StartingVolume, &r.PredictedVolume); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteCorpus) Close() error {
	return s.db.Close()
}
