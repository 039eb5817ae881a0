package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/pagewatch/dbopen"
)

// Schema creates the history tables. Pass it to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    job_id          TEXT NOT NULL,
    position        INTEGER NOT NULL,
    content         TEXT NOT NULL,
    content_hash    TEXT NOT NULL,
    revision_marker TEXT NOT NULL DEFAULT '',
    timestamp       INTEGER NOT NULL,
    is_error        INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (job_id, position)
);

CREATE TABLE IF NOT EXISTS fetch_log (
    id            TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    status        TEXT NOT NULL,
    status_code   INTEGER NOT NULL DEFAULT 0,
    content_hash  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_job ON fetch_log(job_id, fetched_at DESC);
`

// SQLiteStore is the persistent Store. Timestamps are unix nanoseconds.
type SQLiteStore struct {
	DB *sql.DB
}

// NewSQLiteStore wraps an opened database that already carries Schema.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.DB.Close() }

// Load reads the record of id. A row that does not decode (content hash
// mismatch, position gap) fails this job's load only.
func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT position, content, content_hash, revision_marker, timestamp, is_error
		FROM snapshots WHERE job_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, &StoreError{JobID: id, Op: "load", Err: err}
	}
	defer rows.Close()

	var rec Record
	for rows.Next() {
		var (
			pos     int
			hash    string
			ts      int64
			isError int
			snap    Snapshot
		)
		if err := rows.Scan(&pos, &snap.Content, &hash, &snap.RevisionMarker, &ts, &isError); err != nil {
			return nil, &StoreError{JobID: id, Op: "load", Err: fmt.Errorf("scan snapshot: %w", err)}
		}
		if pos != len(rec) {
			return nil, &StoreError{JobID: id, Op: "load", Err: fmt.Errorf("missing snapshot at position %d", len(rec))}
		}
		snap.Timestamp = time.Unix(0, ts).UTC()
		snap.IsError = isError != 0
		if snap.Hash() != hash {
			return nil, &StoreError{JobID: id, Op: "load", Err: fmt.Errorf("snapshot %d: content hash mismatch", pos)}
		}
		rec = append(rec, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{JobID: id, Op: "load", Err: err}
	}
	return rec, nil
}

// Save replaces the record of id in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, id string, rec Record) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE job_id = ?`, id); err != nil {
			return err
		}
		for pos, snap := range rec {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO snapshots (job_id, position, content, content_hash,
				revision_marker, timestamp, is_error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, pos, snap.Content, snap.Hash(), snap.RevisionMarker,
				snap.Timestamp.UnixNano(), boolInt(snap.IsError),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StoreError{JobID: id, Op: "save", Err: err}
	}
	return nil
}

// Delete removes the record and fetch log of id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE job_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM fetch_log WHERE job_id = ?`, id)
		return err
	})
	if err != nil {
		return &StoreError{JobID: id, Op: "delete", Err: err}
	}
	return nil
}

func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT job_id FROM snapshots ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("history: list ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("history: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LogFetch records a run in the fetch log.
func (s *SQLiteStore) LogFetch(ctx context.Context, e FetchLogEntry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO fetch_log (id, job_id, status, status_code, content_hash,
		error_message, attempts, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.Status, e.StatusCode, e.ContentHash,
		e.Error, e.Attempts, e.DurationMs, e.FetchedAt.UnixNano(),
	)
	if err != nil {
		return &StoreError{JobID: e.JobID, Op: "log fetch", Err: err}
	}
	return nil
}

// FetchLog returns fetch log entries for a job, newest first.
func (s *SQLiteStore) FetchLog(ctx context.Context, id string, limit int) ([]FetchLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, job_id, status, status_code, content_hash,
		error_message, attempts, duration_ms, fetched_at
		FROM fetch_log WHERE job_id = ?
		ORDER BY fetched_at DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FetchLogEntry
	for rows.Next() {
		var (
			e  FetchLogEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Status, &e.StatusCode,
			&e.ContentHash, &e.Error, &e.Attempts, &e.DurationMs, &at); err != nil {
			return nil, fmt.Errorf("scan fetch log: %w", err)
		}
		e.FetchedAt = time.Unix(0, at).UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
