// Package audit persists gateway events to SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GoPolymarket/trading-gateway/internal/gateway"
)

const defaultQueue = 256

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one stored event.
type Entry struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	At        time.Time       `json:"at"`
	CommandID string          `json:"command_id,omitempty"`
	Result    string          `json:"result,omitempty"`
	Risk      string          `json:"risk,omitempty"`
	Severity  int             `json:"severity"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Log is a gateway.Sink writing events to a SQLite table. Handle only
// enqueues; Run performs the writes.
type Log struct {
	db      *sql.DB
	logger  *slog.Logger
	queue   chan gateway.Event
	dropped atomic.Int64
}

// Open opens a SQLite database at path. SQLite allows one writer, so the
// pool is capped to a single connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	return db, nil
}

// New creates the audit log and its table.
func New(db *sql.DB, logger *slog.Logger, queue int) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queue <= 0 {
		queue = defaultQueue
	}
	l := &Log{
		db:     db,
		logger: logger.With("component", "audit"),
		queue:  make(chan gateway.Event, queue),
	}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	table := `
	CREATE TABLE IF NOT EXISTS gateway_events (
		event_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		at TEXT NOT NULL,
		command_id TEXT,
		result TEXT,
		risk TEXT,
		severity INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		payload JSON
	);`
	index := `CREATE INDEX IF NOT EXISTS idx_gateway_events_command ON gateway_events(command_id);`
	for _, q := range []string{table, index} {
		if _, err := l.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrate audit db: %w", err)
		}
	}
	return nil
}

// Handle implements gateway.Sink. Events are dropped when the queue is full.
func (l *Log) Handle(e gateway.Event) {
	select {
	case l.queue <- e:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("audit queue full, event dropped", "event", e.ID, "type", e.Type, "dropped", n)
	}
}

// Dropped returns how many events were discarded.
func (l *Log) Dropped() int64 { return l.dropped.Load() }

// Run drains the queue until ctx is done, then flushes what is left.
// Writes outlive ctx so shutdown does not lose queued events.
func (l *Log) Run(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case e := <-l.queue:
			l.write(wctx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-l.queue:
					l.write(wctx, e)
				default:
					return nil
				}
			}
		}
	}
}

func (l *Log) write(ctx context.Context, e gateway.Event) {
	if err := l.Record(ctx, e); err != nil {
		l.logger.Error("audit write failed", "event", e.ID, "error", err)
	}
}

// Record writes e synchronously.
func (l *Log) Record(ctx context.Context, e gateway.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var result, risk string
	if e.Decision != nil {
		result = string(e.Decision.Result)
		risk = string(e.Decision.RiskLevel)
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO gateway_events (
		event_id, type, at, command_id, result, risk, severity, reason, payload
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.At.UTC().Format(timeLayout), e.CommandID, result, risk, e.Severity, e.Reason, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return l.query(ctx, `SELECT event_id, type, at, command_id, result, risk, severity, reason, payload
		FROM gateway_events ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
}

// ForCommand returns the events of one command in the order they happened.
func (l *Log) ForCommand(ctx context.Context, commandID string) ([]Entry, error) {
	return l.query(ctx, `SELECT event_id, type, at, command_id, result, risk, severity, reason, payload
		FROM gateway_events WHERE command_id = ? ORDER BY at ASC, rowid ASC`, commandID)
}

// CountByResult tallies decision events per result.
func (l *Log) CountByResult(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM gateway_events
		WHERE type = ? GROUP BY result`, string(gateway.EventDecision))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			result string
			n      int
		)
		if err := rows.Scan(&result, &n); err != nil {
			return nil, err
		}
		out[result] = n
	}
	return out, rows.Err()
}

func (l *Log) query(ctx context.Context, query string, arg any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			at      string
			cmdID   sql.NullString
			result  sql.NullString
			risk    sql.NullString
			reason  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&e.EventID, &e.Type, &at, &cmdID, &result, &risk, &e.Severity, &reason, &payload); err != nil {
			return nil, err
		}
		e.At, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", e.EventID, err)
		}
		e.CommandID = cmdID.String
		e.Result = result.String
		e.Risk = risk.String
		e.Reason = reason.String
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
