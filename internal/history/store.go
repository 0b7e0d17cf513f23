// Package history persists call outcomes in SQLite and answers the lookups
// the missed-call heuristic needs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dense-identity/callsig/internal/signaling"
)

type Config struct {
	Path string `env:"HISTORY_DB" envDefault:"data/callsig.db"`
}

// Outcome is how a call ended.
type Outcome string

const (
	OutcomeMissed    Outcome = "missed"
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeRejected  Outcome = "rejected"
)

// Record is one row of call history.
type Record struct {
	ID       int64
	Peer     string
	CallID   signaling.CallID
	Outcome  Outcome
	Incoming bool
	Reason   signaling.RejectReason
	Duration time.Duration
	At       time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	peer        TEXT    NOT NULL,
	call_id     INTEGER NOT NULL,
	outcome     TEXT    NOT NULL,
	incoming    INTEGER NOT NULL DEFAULT 0,
	reason      INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	at_ms       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_records_peer ON call_records (peer, id);
`

// Store is a SQLite backed call history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add appends r and returns its row id.
func (s *Store) Add(ctx context.Context, r Record) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO call_records (peer, call_id, outcome, incoming, reason, duration_ms, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Peer, int64(r.CallID), string(r.Outcome), r.Incoming, int(r.Reason),
		r.Duration.Milliseconds(), r.At.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add call record: %w", err)
	}
	return res.LastInsertId()
}

// HasRecentCallRecord reports whether callID is among the last lookback
// records for peer. Legacy calls without an id never match.
func (s *Store) HasRecentCallRecord(ctx context.Context, peer string, callID signaling.CallID, lookback int) (bool, error) {
	if lookback <= 0 || callID == signaling.NoCallID {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT call_id FROM call_records WHERE peer = ? ORDER BY id DESC LIMIT ?
		) WHERE call_id = ?`,
		peer, lookback, int64(callID),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query call history: %w", err)
	}
	return n > 0, nil
}

// Recent returns up to limit records, newest first. An empty peer matches
// every peer.
func (s *Store) Recent(ctx context.Context, peer string, limit int) ([]Record, error) {
	query := `
		SELECT id, peer, call_id, outcome, incoming, reason, duration_ms, at_ms
		FROM call_records`
	args := []any{}
	if peer != "" {
		query += ` WHERE peer = ?`
		args = append(args, peer)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			callID     int64
			outcome    string
			reason     int
			durationMs int64
			atMs       int64
		)
		if err := rows.Scan(&r.ID, &r.Peer, &callID, &outcome, &r.Incoming, &reason, &durationMs, &atMs); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		r.CallID = signaling.CallID(uint64(callID))
		r.Outcome = Outcome(outcome)
		r.Reason = signaling.RejectReason(reason)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.At = time.UnixMilli(atMs)
		out = append(out, r)
	}
	return out, rows.Err()
}
