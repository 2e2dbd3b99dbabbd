package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/shadow/dbopen"
	"github.com/hazyhaar/shadow/idgen"
)

// Schema creates the relay_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	event_id    TEXT PRIMARY KEY,
	timestamp   INTEGER NOT NULL,
	room        TEXT NOT NULL,
	conn_id     TEXT NOT NULL,
	event       TEXT NOT NULL,
	role        TEXT,
	remote_addr TEXT,
	trace_id    TEXT,
	detail      TEXT
);
CREATE INDEX IF NOT EXISTS idx_relay_events_room ON relay_events(room, timestamp);
`

// Audit event names.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Event is one membership change.
type Event struct {
	EventID    string
	Timestamp  time.Time
	Room       string
	ConnID     string
	Event      string
	Role       string
	RemoteAddr string
	TraceID    string
	Detail     string
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	Room  string
	Event string
	Limit int // default 100
}

// Audit persists relay events asynchronously in batches.
type Audit struct {
	db     *sql.DB
	newID  idgen.Generator
	ch     chan *Event
	stop   chan struct{}
	done   chan struct{}
	flush  time.Duration
	owned  bool
	logger *slog.Logger
}

// OpenAudit opens (creating if needed) the SQLite audit database at path.
func OpenAudit(path string, logger *slog.Logger) (*Audit, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("relay: open audit: %w", err)
	}
	a := NewAudit(db, 1000, logger)
	a.owned = true
	return a, nil
}

// NewAudit wraps a database that already carries Schema.
func NewAudit(db *sql.DB, buffer int, logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Audit{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		ch:     make(chan *Event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		flush:  time.Second,
		logger: logger,
	}
	go a.flushLoop()
	return a
}

// Record queues e. A full buffer falls back to a synchronous insert.
func (a *Audit) Record(e *Event) {
	if e.EventID == "" {
		e.EventID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case a.ch <- e:
	default:
		a.logger.Warn("relay audit buffer full, sync fallback", "room", e.Room)
		if _, err := dbopen.Exec(context.Background(), a.db, insertEvent, eventArgs(e)...); err != nil {
			a.logger.Error("relay audit: sync fallback failed", "error", err)
		}
	}
}

// Query returns events newest first.
func (a *Audit) Query(ctx context.Context, f Filter) ([]Event, error) {
	q := `SELECT event_id, timestamp, room, conn_id, event,
		COALESCE(role, ''), COALESCE(remote_addr, ''), COALESCE(trace_id, ''), COALESCE(detail, '')
		FROM relay_events WHERE 1=1`
	var args []any
	if f.Room != "" {
		q += " AND room = ?"
		args = append(args, f.Room)
	}
	if f.Event != "" {
		q += " AND event = ?"
		args = append(args, f.Event)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query relay events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.EventID, &ts, &e.Room, &e.ConnID, &e.Event,
			&e.Role, &e.RemoteAddr, &e.TraceID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan relay event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains queued events. A database opened by OpenAudit is closed too.
func (a *Audit) Close() error {
	close(a.stop)
	<-a.done
	if a.owned {
		return a.db.Close()
	}
	return nil
}

const insertEvent = `INSERT INTO relay_events
	(event_id, timestamp, room, conn_id, event, role, remote_addr, trace_id, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func eventArgs(e *Event) []any {
	return []any{e.EventID, e.Timestamp.UnixMilli(), e.Room, e.ConnID, e.Event,
		e.Role, e.RemoteAddr, e.TraceID, e.Detail}
}

func (a *Audit) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.flush)
	defer ticker.Stop()
	batch := make([]*Event, 0, 100)

	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, a.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertEvent)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range batch {
				if _, err := stmt.ExecContext(ctx, eventArgs(e)...); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			a.logger.Error("relay audit: flush", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				write()
			}
		case <-ticker.C:
			write()
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					write()
					return
				}
			}
		}
	}
}
