package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite keeps call records in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_records (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			room        TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			role        TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			connected_at TEXT NOT NULL DEFAULT '',
			ended_at    TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			outcome     TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS call_records_room ON call_records(room);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_records: %w", err)
	}
	log.Info().Str("module", "store.sqlite").Str("path", path).Msg("database ready")
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) WriteCallRecord(ctx context.Context, rec domain.CallRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_records (room, user_id, role, started_at, connected_at, ended_at, duration_ms, outcome, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Room), string(rec.User), string(rec.Role),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		formatOptional(rec.ConnectedAt),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMs, string(rec.Outcome), rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (s *SQLite) ListCallRecords(ctx context.Context, room domain.RoomID) ([]domain.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room, user_id, role, started_at, connected_at, ended_at, duration_ms, outcome, reason
		FROM call_records WHERE room = ? ORDER BY id`, string(room))
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	out := []domain.CallRecord{}
	for rows.Next() {
		var (
			rec            domain.CallRecord
			started, ended string
			connected      string
			roomID, user   string
			role, outcome  string
		)
		if err := rows.Scan(&roomID, &user, &role, &started, &connected, &ended, &rec.DurationMs, &outcome, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.Room = domain.RoomID(roomID)
		rec.User = domain.UserID(user)
		rec.Role = domain.Role(role)
		rec.Outcome = domain.CallOutcome(outcome)
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if connected != "" {
			if rec.ConnectedAt, err = time.Parse(time.RFC3339Nano, connected); err != nil {
				return nil, fmt.Errorf("parse connected_at: %w", err)
			}
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLite) Close() error { return s.db.Close() }
