package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dustin/sitepulse/internal/analytics"
)

// SQLStore keeps the event log in an embedded SQLite table. Row ids give the
// arrival order; the capacity is enforced by deleting the lowest ids.
type SQLStore struct {
	db       *sql.DB
	capacity int
	writeMu  sync.Mutex

	stmtInsert *sql.Stmt
	stmtTrim   *sql.Stmt
}

// NewSQLStore opens (and if needed creates) the database at dbPath.
func NewSQLStore(dbPath string, capacity int) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db, capacity: capacity}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	referrer TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL,
	event_name TEXT NOT NULL DEFAULT '',
	event_data TEXT
);
`)
	return err
}

func (s *SQLStore) prepareStatements() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(`
INSERT INTO events (path, referrer, user_agent, ts, event_name, event_data)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}

	// The subquery is NULL while the table holds at most capacity rows, so
	// nothing is deleted until the cap is exceeded.
	s.stmtTrim, err = s.db.Prepare(`
DELETE FROM events WHERE id <= (SELECT id FROM events ORDER BY id DESC LIMIT 1 OFFSET ?)
`)
	if err != nil {
		return fmt.Errorf("prepare trim: %w", err)
	}
	return nil
}

// Append inserts e and evicts the oldest rows past capacity in one
// transaction.
func (s *SQLStore) Append(ctx context.Context, e analytics.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.insert(ctx, tx, e); err != nil {
			return err
		}
		_, err := tx.StmtContext(ctx, s.stmtTrim).ExecContext(ctx, s.capacity)
		return err
	})
}

// ReadAll returns every row in id order.
func (s *SQLStore) ReadAll(ctx context.Context) ([]analytics.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT path, referrer, user_agent, ts, event_name, event_data FROM events ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []analytics.Event
	for rows.Next() {
		var e analytics.Event
		var data sql.NullString
		if err := rows.Scan(&e.Path, &e.Referrer, &e.UserAgent, &e.Timestamp, &e.EventName, &data); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.EventData); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Replace deletes every row and inserts the newest capacity entries of events.
func (s *SQLStore) Replace(ctx context.Context, events []analytics.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	events = keepNewest(events, s.capacity)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
			return err
		}
		for _, e := range events {
			if err := s.insert(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the row count.
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes prepared statements and the database.
func (s *SQLStore) Close() error {
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	if s.stmtTrim != nil {
		s.stmtTrim.Close()
	}
	return s.db.Close()
}

func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, e analytics.Event) error {
	var data any
	if e.EventData != nil {
		buf, err := json.Marshal(e.EventData)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		data = string(buf)
	}
	_, err := tx.StmtContext(ctx, s.stmtInsert).ExecContext(ctx,
		e.Path, e.Referrer, e.UserAgent, e.Timestamp, e.EventName, data)
	return err
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
