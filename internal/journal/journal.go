// Package journal keeps a SQLite record of processed batches.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codesync/internal/engine"
	"codesync/internal/router"
)

// ErrNotFound is returned for an unknown batch ID.
var ErrNotFound = errors.New("batch not found")

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS diffs (
	batch_id  TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	path      TEXT NOT NULL,
	original  TEXT NOT NULL,
	generated TEXT NOT NULL,
	PRIMARY KEY (batch_id, path)
);
CREATE TABLE IF NOT EXISTS failures (
	batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	kind     TEXT NOT NULL,
	path     TEXT NOT NULL,
	target   TEXT NOT NULL,
	message  TEXT NOT NULL,
	PRIMARY KEY (batch_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at);
`

// Summary describes a recorded batch without its contents.
type Summary struct {
	BatchID   string    `json:"batchId"`
	CreatedAt time.Time `json:"createdAt"`
	Diffs     int       `json:"diffs"`
	Failures  int       `json:"failures"`
}

// Journal is a batch store. It implements engine.Recorder.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores r. Recording the same batch twice replaces it.
func (j *Journal) Record(ctx context.Context, r *engine.Result) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, r.BatchID); err != nil {
		return fmt.Errorf("failed to replace batch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO batches (id, created_at) VALUES (?, ?)`,
		r.BatchID, j.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	for _, d := range r.Diffs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO diffs (batch_id, path, original, generated) VALUES (?, ?, ?, ?)`,
			r.BatchID, d.Path, d.Original, d.Generated); err != nil {
			return fmt.Errorf("failed to insert diff for %s: %w", d.Path, err)
		}
	}
	for i, f := range r.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (batch_id, seq, kind, path, target, message) VALUES (?, ?, ?, ?, ?, ?)`,
			r.BatchID, i, string(f.Kind), f.Path, f.Target, f.Message); err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get loads a recorded batch.
func (j *Journal) Get(ctx context.Context, batchID string) (*engine.Result, error) {
	var created int64
	err := j.db.QueryRowContext(ctx, `SELECT created_at FROM batches WHERE id = ?`, batchID).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	res := &engine.Result{BatchID: batchID}
	rows, err := j.db.QueryContext(ctx,
		`SELECT path, original, generated FROM diffs WHERE batch_id = ? ORDER BY path`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load diffs: %w", err)
	}
	for rows.Next() {
		var d engine.CodeDiff
		if err := rows.Scan(&d.Path, &d.Original, &d.Generated); err != nil {
			rows.Close()
			return nil, err
		}
		res.Diffs = append(res.Diffs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = j.db.QueryContext(ctx,
		`SELECT kind, path, target, message FROM failures WHERE batch_id = ? ORDER BY seq`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f engine.Failure
		var kind string
		if err := rows.Scan(&kind, &f.Path, &f.Target, &f.Message); err != nil {
			return nil, err
		}
		f.Kind = router.FailureKind(kind)
		res.Failures = append(res.Failures, f)
	}
	return res, rows.Err()
}

// Recent lists the latest batches, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT b.id, b.created_at,
			(SELECT COUNT(*) FROM diffs d WHERE d.batch_id = b.id),
			(SELECT COUNT(*) FROM failures f WHERE f.batch_id = b.id)
		FROM batches b
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var created int64
		if err := rows.Scan(&s.BatchID, &created, &s.Diffs, &s.Failures); err != nil {
			return nil, err
		}
		s.CreatedAt = time.UnixMilli(created)
		out = append(out, s)
	}
	return out, rows.Err()
}
