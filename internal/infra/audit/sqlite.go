package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/adapter"
	"ai-request-queue/internal/domain/ports/repository"

	_ "github.com/mattn/go-sqlite3"
)

var (
	_ repository.TransitionLog = (*Log)(nil)
	_ adapter.TransitionSink   = (*Log)(nil)
)

// Log is an append-only SQLite history of queue transitions.
type Log struct {
	db *sql.DB
}

func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Scanner, API and CLI may share one file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS transitions(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		record_id TEXT,
		from_state TEXT,
		to_state TEXT,
		cause TEXT,
		reason TEXT,
		category TEXT,
		age_minutes REAL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) Append(ctx context.Context, ev model.TransitionEvent) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO transitions(
		ts, record_id, from_state, to_state, cause, reason, category, age_minutes)
		VALUES(?,?,?,?,?,?,?,?)`,
		float64(ev.At.UnixNano())/1e9, ev.ID, string(ev.From), string(ev.To),
		string(ev.Cause), ev.Reason, string(ev.Category), ev.AgeMinutes)
	if err != nil {
		return fmt.Errorf("audit append %s: %w", ev.ID, err)
	}
	return nil
}

// Publish lets the log sit behind a TransitionSink.
func (l *Log) Publish(ctx context.Context, ev model.TransitionEvent) error {
	return l.Append(ctx, ev)
}

func (l *Log) Recent(ctx context.Context, limit int) ([]model.TransitionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT ts, record_id, from_state, to_state, cause, reason, category, age_minutes
		FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TransitionEvent
	for rows.Next() {
		var (
			ts                   float64
			ev                   model.TransitionEvent
			from, to, cause, cat string
		)
		if err := rows.Scan(&ts, &ev.ID, &from, &to, &cause, &ev.Reason, &cat, &ev.AgeMinutes); err != nil {
			return nil, err
		}
		ev.From = model.QueueState(from)
		ev.To = model.QueueState(to)
		ev.Cause = model.TransitionCause(cause)
		ev.Category = model.Category(cat)
		sec := int64(ts)
		ev.At = time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
