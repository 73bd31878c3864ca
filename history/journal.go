// Package history keeps a journal of state transitions for the wireless
// and tunnel resources in a small SQLite database under the data
// directory. It is write-mostly: managers record every transition and
// the CLI reads the most recent ones back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/travelnet/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	at       INTEGER NOT NULL,
	resource TEXT    NOT NULL,
	cause    TEXT    NOT NULL,
	from_state TEXT  NOT NULL,
	to_state   TEXT  NOT NULL,
	detail   TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_resource_at ON events (resource, at);
`

// Journal records transitions. It satisfies common.EventRecorder.
type Journal struct {
	db        *sql.DB
	retention int
}

// Open opens (creating if needed) the journal at path. ":memory:" gives
// a private in-memory journal.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &Journal{db: db, retention: common.HistoryRetention}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends ev and trims the journal to its retention.
func (j *Journal) Record(ctx context.Context, ev common.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, resource, cause, from_state, to_state, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.At.UnixNano(), string(ev.Resource), ev.Cause, ev.From, ev.To, ev.Detail)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}

	if _, err := j.Prune(ctx, j.retention); err != nil {
		common.LogWarn("History prune failed: %v", err)
	}
	return nil
}

// Recent returns up to limit transitions, newest first. A non-empty
// resource filters to that resource.
func (j *Journal) Recent(ctx context.Context, resource common.Resource, limit int) ([]common.Event, error) {
	if limit <= 0 {
		limit = common.DefaultHistoryLimit
	}

	query := `SELECT at, resource, cause, from_state, to_state, detail FROM events`
	args := []interface{}{}
	if resource != "" {
		query += ` WHERE resource = ?`
		args = append(args, string(resource))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var events []common.Event
	for rows.Next() {
		var (
			ev  common.Event
			at  int64
			res string
		)
		if err := rows.Scan(&at, &res, &ev.Cause, &ev.From, &ev.To, &ev.Detail); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		ev.At = time.Unix(0, at)
		ev.Resource = common.Resource(res)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	return events, nil
}

// Prune deletes all but the newest keep transitions and returns how
// many were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM events WHERE id <= (SELECT id FROM events ORDER BY id DESC LIMIT 1 OFFSET ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
