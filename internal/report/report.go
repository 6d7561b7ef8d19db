// Package report persists per-tile export outcomes to a SQLite file, so a
// partially failed batch can be inspected after the fact without grepping
// logs.
package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusExported Status = "exported"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Report is safe for use from the export workers; SQLite writes are
// serialized behind a mutex on a single connection.
type Report struct {
	db    *sql.DB
	runID string

	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	exported   INTEGER,
	failed     INTEGER,
	skipped    INTEGER
);
CREATE TABLE IF NOT EXISTS tiles (
	run_id      TEXT NOT NULL,
	tile_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	nr_items    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	digest      TEXT,
	detail      TEXT,
	PRIMARY KEY (run_id, tile_id)
);
`

// Open creates or opens the report database at path and records the start
// of run runID.
func Open(path, runID string) (*Report, error) {
	if path == "" {
		return nil, fmt.Errorf("report: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("report: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("report: schema: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("report: insert run: %w", err)
	}
	return &Report{db: db, runID: runID}, nil
}

// RecordTile stores one tile outcome. Detail carries the captured subprocess
// output for failures, the content digest column the xxhash of the tile's
// input manifest.
func (r *Report) RecordTile(tileID string, status Status, nrItems int, d time.Duration, digest, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO tiles (run_id, tile_id, status, nr_items, duration_ms, digest, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID, tileID, string(status), nrItems, d.Milliseconds(), digest, detail)
	if err != nil {
		return fmt.Errorf("report: record tile %s: %w", tileID, err)
	}
	return nil
}

// Finish stamps the run row with its end time and summary counts.
func (r *Report) Finish(exported, failed, skipped int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`UPDATE runs SET ended_at = ?, exported = ?, failed = ?, skipped = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), exported, failed, skipped, r.runID)
	if err != nil {
		return fmt.Errorf("report: finish run: %w", err)
	}
	return nil
}

// TileStatus returns the recorded status of one tile in this run.
func (r *Report) TileStatus(tileID string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s string
	err := r.db.QueryRow(
		`SELECT status FROM tiles WHERE run_id = ? AND tile_id = ?`, r.runID, tileID).Scan(&s)
	if err != nil {
		return "", fmt.Errorf("report: tile %s: %w", tileID, err)
	}
	return Status(s), nil
}

func (r *Report) Close() error {
	return r.db.Close()
}
