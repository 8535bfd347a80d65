package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
)

// DefaultHistoryLimit caps History when the caller passes a non-positive limit.
const DefaultHistoryLimit = 50

// SessionLedger records every downstream session in the sessions table.
type SessionLedger struct {
	db *Database
}

// SessionRecord is one row of the ledger. Timestamps are zero while the
// session has not reached that stage.
type SessionRecord struct {
	ID               string    `json:"id"`
	RemoteAddr       string    `json:"remote_addr"`
	DownstreamName   string    `json:"downstream_name"`
	UpstreamUsername string    `json:"upstream_username"`
	UpstreamAddr     string    `json:"upstream_addr"`
	OpenedAt         time.Time `json:"opened_at"`
	LoggedInAt       time.Time `json:"logged_in_at,omitempty"`
	ClosedAt         time.Time `json:"closed_at,omitempty"`
	CloseReason      string    `json:"close_reason,omitempty"`
	CloseDetail      string    `json:"close_detail,omitempty"`
	PacketsUp        uint64    `json:"packets_up"`
	PacketsDown      uint64    `json:"packets_down"`
	ChunksSent       uint64    `json:"chunks_sent"`
	EntitiesSeen     int       `json:"entities_seen"`
}

// Duration returns how long the session lasted, or zero while it is open.
func (r SessionRecord) Duration() time.Duration {
	if r.ClosedAt.IsZero() {
		return 0
	}
	return r.ClosedAt.Sub(r.OpenedAt)
}

// NewSessionLedger opens the ledger database at dbPath and migrates it.
func NewSessionLedger(dbPath string) (*SessionLedger, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	l := &SessionLedger{db: database}
	if err := l.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session ledger: %w", err)
	}
	return l, nil
}

func (l *SessionLedger) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL DEFAULT '',
			downstream_name TEXT NOT NULL DEFAULT '',
			upstream_username TEXT NOT NULL DEFAULT '',
			upstream_addr TEXT NOT NULL DEFAULT '',
			opened_at INTEGER NOT NULL,
			logged_in_at INTEGER,
			closed_at INTEGER,
			close_reason TEXT NOT NULL DEFAULT '',
			close_detail TEXT NOT NULL DEFAULT '',
			packets_up INTEGER NOT NULL DEFAULT 0,
			packets_down INTEGER NOT NULL DEFAULT 0,
			chunks_sent INTEGER NOT NULL DEFAULT 0,
			entities_seen INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_opened_at ON sessions(opened_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_closed_at ON sessions(closed_at);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("session ledger schema migrated")
	return nil
}

// Close closes the underlying database.
func (l *SessionLedger) Close() error {
	return l.db.Close()
}

// Subscribe wires the ledger to the session lifecycle events.
func (l *SessionLedger) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSessionOpened, "session-ledger", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionOpenedPayload)
		if !ok {
			return nil
		}
		return l.RecordOpened(p)
	})
	bus.Subscribe(events.EventSessionLoggedIn, "session-ledger", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionLoggedInPayload)
		if !ok {
			return nil
		}
		return l.RecordLoggedIn(p, time.Now())
	})
	bus.Subscribe(events.EventSessionClosed, "session-ledger", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionClosedPayload)
		if !ok {
			return nil
		}
		return l.RecordClosed(p)
	})
}

// RecordOpened inserts the row for a newly accepted session.
func (l *SessionLedger) RecordOpened(p events.SessionOpenedPayload) error {
	_, err := l.db.Exec(
		`INSERT INTO sessions (id, remote_addr, opened_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET remote_addr = excluded.remote_addr, opened_at = excluded.opened_at`,
		p.SessionID, p.RemoteAddr, p.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", p.SessionID, err)
	}
	return nil
}

// RecordLoggedIn stores the names and upstream a session logged in with.
func (l *SessionLedger) RecordLoggedIn(p events.SessionLoggedInPayload, at time.Time) error {
	_, err := l.db.Exec(
		`INSERT INTO sessions (id, downstream_name, upstream_username, upstream_addr, opened_at, logged_in_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET downstream_name = excluded.downstream_name,
		 upstream_username = excluded.upstream_username, upstream_addr = excluded.upstream_addr,
		 logged_in_at = excluded.logged_in_at`,
		p.SessionID, p.DownstreamName, p.UpstreamUsername, p.UpstreamAddr, at.UnixMilli(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record login for session %s: %w", p.SessionID, err)
	}
	return nil
}

// RecordClosed stores the close reason and traffic totals. Bus handlers run
// concurrently, so each Record call creates the row when it is missing.
func (l *SessionLedger) RecordClosed(p events.SessionClosedPayload) error {
	return l.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO sessions (id, opened_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
			p.SessionID, p.ClosedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record session %s: %w", p.SessionID, err)
		}

		_, err = tx.Exec(
			`UPDATE sessions SET closed_at = ?, close_reason = ?, close_detail = ?,
			 packets_up = ?, packets_down = ?, chunks_sent = ?, entities_seen = ?
			 WHERE id = ?`,
			p.ClosedAt.UnixMilli(), string(p.Reason), p.Detail,
			int64(p.PacketsUp), int64(p.PacketsDown), int64(p.ChunksSent), p.EntitiesSeen,
			p.SessionID)
		if err != nil {
			return fmt.Errorf("failed to record close for session %s: %w", p.SessionID, err)
		}
		return nil
	})
}

// History returns the most recently opened sessions, newest first.
func (l *SessionLedger) History(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := l.db.Query(`
		SELECT id, remote_addr, downstream_name, upstream_username, upstream_addr,
		       opened_at, logged_in_at, closed_at, close_reason, close_detail,
		       packets_up, packets_down, chunks_sent, entities_seen
		FROM sessions
		ORDER BY opened_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			r                SessionRecord
			opened           int64
			loggedIn, closed sql.NullInt64
			up, down, chunks int64
		)
		if err := rows.Scan(&r.ID, &r.RemoteAddr, &r.DownstreamName, &r.UpstreamUsername, &r.UpstreamAddr,
			&opened, &loggedIn, &closed, &r.CloseReason, &r.CloseDetail,
			&up, &down, &chunks, &r.EntitiesSeen); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		r.OpenedAt = time.UnixMilli(opened)
		if loggedIn.Valid {
			r.LoggedInAt = time.UnixMilli(loggedIn.Int64)
		}
		if closed.Valid {
			r.ClosedAt = time.UnixMilli(closed.Int64)
		}
		r.PacketsUp, r.PacketsDown, r.ChunksSent = uint64(up), uint64(down), uint64(chunks)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of rows in the ledger.
func (l *SessionLedger) Count() (int, error) {
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// Prune deletes closed sessions that ended before cutoff and returns how
// many rows were removed. Open sessions are never pruned.
func (l *SessionLedger) Prune(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec(
		"DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("pruned session ledger")
	}
	return n, nil
}
