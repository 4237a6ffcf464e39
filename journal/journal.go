// Package journal records batch runs and per-file outcomes in SQLite so a
// later run can skip sources that were already compressed under the same
// policy.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Skryldev/image-compressor/core"
)

// ErrNoRun is returned by Record before BeginRun.
var ErrNoRun = errors.New("journal: no run started")

// Summary aggregates the entries of one run.
type Summary struct {
	RunID           string    `json:"run_id"`
	Fingerprint     string    `json:"policy_fingerprint"`
	StartedAt       time.Time `json:"started_at"`
	Files           int       `json:"files"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	Repaired        int       `json:"repaired"`
	OriginalBytes   int64     `json:"original_bytes"`
	CompressedBytes int64     `json:"compressed_bytes"`
}

// Journal is a core.ResultSink backed by SQLite.  Safe for concurrent use.
type Journal struct {
	db *sql.DB

	mu          sync.RWMutex
	runID       string
	fingerprint string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			source TEXT NOT NULL,
			destination TEXT NOT NULL DEFAULT '',
			hash TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			success INTEGER NOT NULL,
			repaired INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT '',
			original_size INTEGER NOT NULL DEFAULT 0,
			compressed_size INTEGER NOT NULL DEFAULT 0,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id);
		CREATE INDEX IF NOT EXISTS idx_entries_hash ON entries(hash, fingerprint);
	`)
	return err
}

// Fingerprint identifies the output-affecting fields of a policy.
func Fingerprint(p core.Policy) string {
	return fmt.Sprintf("preset=%s;format=%s;max=%d;meta=%t;repair=%t",
		p.Preset, p.TargetFormat, p.MaxSizeBytes, p.PreserveMetadata, p.AutoRepair)
}

// BeginRun starts a new run under policy p and makes it the target of
// subsequent Record calls.
func (j *Journal) BeginRun(ctx context.Context, p core.Policy) (string, error) {
	id := uuid.NewString()
	fp := Fingerprint(p)
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, started_at) VALUES (?, ?, ?)`,
		id, fp, time.Now().Unix(),
	); err != nil {
		return "", fmt.Errorf("journal: begin run: %w", err)
	}

	j.mu.Lock()
	j.runID, j.fingerprint = id, fp
	j.mu.Unlock()
	return id, nil
}

// Record stores r under the current run.
func (j *Journal) Record(ctx context.Context, r core.CompressionResult) error {
	j.mu.RLock()
	runID, fp := j.runID, j.fingerprint
	j.mu.RUnlock()
	if runID == "" {
		return ErrNoRun
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, source, destination, hash, fingerprint, success, repaired,
		                      failure_reason, original_size, compressed_size, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Source, r.Destination, r.SourceHash, fp, r.Success, r.Repaired,
		string(r.FailureReason), r.OriginalSizeBytes, r.CompressedSizeBytes, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Seen reports whether a source with content hash was already compressed
// successfully under the policy fingerprint.
func (j *Journal) Seen(ctx context.Context, hash, fingerprint string) (bool, error) {
	var count int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE hash = ? AND fingerprint = ? AND success = 1`,
		hash, fingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("journal: seen: %w", err)
	}
	return count > 0, nil
}

// Summary aggregates the entries recorded under runID.
func (j *Journal) Summary(ctx context.Context, runID string) (*Summary, error) {
	s := &Summary{RunID: runID}
	var started int64
	err := j.db.QueryRowContext(ctx,
		`SELECT fingerprint, started_at FROM runs WHERE id = ?`, runID,
	).Scan(&s.Fingerprint, &started)
	if err != nil {
		return nil, fmt.Errorf("journal: summary: %w", err)
	}
	s.StartedAt = time.Unix(started, 0)

	err = j.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(SUM(repaired), 0),
		        COALESCE(SUM(CASE WHEN success = 1 THEN original_size ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN success = 1 THEN compressed_size ELSE 0 END), 0)
		 FROM entries WHERE run_id = ?`, runID,
	).Scan(&s.Files, &s.Succeeded, &s.Repaired, &s.OriginalBytes, &s.CompressedBytes)
	if err != nil {
		return nil, fmt.Errorf("journal: summary: %w", err)
	}
	s.Failed = s.Files - s.Succeeded
	return s, nil
}

var _ core.ResultSink = (*Journal)(nil)
