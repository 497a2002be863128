// Package logstore persists the structured, trace-correlated event log that
// operator dashboards query.
//
// The store is an embedded sqlite file with a single append-only logs table.
// Write never fails the caller: persistence errors are counted in memory and
// surfaced through WriteFailures. On an incompatible existing schema the
// file is renamed aside and recreated; audit continuity across incompatible
// schema changes is explicitly not guaranteed.
package logstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Severity levels, lowest first.
const (
	LevelTrace = "trace"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
}

// Event is one structured log line. Events are immutable once written.
type Event struct {
	ID             int64          `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Level          string         `json:"level"`
	Component      string         `json:"component"`
	Event          string         `json:"event"`
	Message        string         `json:"message"`
	TraceID        string         `json:"trace_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TokenID        string         `json:"token_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Hint           string         `json:"hint,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Level          string
	Component      string
	Event          string
	TraceID        string
	ConversationID string
	TokenID        string
	ErrorCode      string
	Since          time.Time
	Until          time.Time
	Limit          int
}

// Stats aggregates events over a time range.
type Stats struct {
	Total       int            `json:"total"`
	ByLevel     map[string]int `json:"by_level"`
	ByComponent map[string]int `json:"by_component"`
}

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	component TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	trace_id TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	token_id TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	hint TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_trace_id ON logs(trace_id);
CREATE INDEX IF NOT EXISTS idx_logs_conversation_id ON logs(conversation_id);
CREATE INDEX IF NOT EXISTS idx_logs_token_id ON logs(token_id);
CREATE INDEX IF NOT EXISTS idx_logs_error_code ON logs(error_code);
CREATE INDEX IF NOT EXISTS idx_logs_component ON logs(component);
CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
`

// expectedColumns is the schema fingerprint used by the rotate-on-mismatch
// policy.
var expectedColumns = []string{
	"id", "timestamp", "level", "component", "event", "message",
	"trace_id", "conversation_id", "token_id", "request_id",
	"error_code", "status_code", "hint", "data",
}

// Store owns the logs database file.
type Store struct {
	db   *sql.DB
	path string

	// minLevel is the lowest severity admitted.
	minLevel int

	mu            sync.Mutex
	writeFailures atomic.Int64
	lastWriteErr  atomic.Value // string
}

// Open opens (or creates) the log database at path. minLevel is the lowest
// admitted severity ("trace" … "error"); unknown values admit everything.
func Open(path, minLevel string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log store dir: %w", err)
	}

	db, rotated, err := openCompatible(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path, minLevel: levelRank[minLevel]}
	if rotated {
		s.Write(Event{
			Timestamp: time.Now().UTC(),
			Level:     LevelWarn,
			Component: "logstore",
			Event:     "log_db_rotated",
			Message:   "incompatible log schema renamed aside, fresh database created",
		})
	}
	return s, nil
}

// openCompatible opens the database, applying the rename-aside policy when
// an existing logs table has an incompatible column set.
func openCompatible(path string) (*sql.DB, bool, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, false, err
	}

	compatible, err := schemaCompatible(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}
	if compatible {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, false, fmt.Errorf("failed to apply log schema: %w", err)
		}
		return db, false, nil
	}

	db.Close()
	legacy := fmt.Sprintf("%s.legacy.%d", path, time.Now().Unix())
	if err := os.Rename(path, legacy); err != nil {
		return nil, false, fmt.Errorf("failed to rotate incompatible log db: %w", err)
	}

	db, err = openDB(path)
	if err != nil {
		return nil, false, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("failed to apply log schema: %w", err)
	}
	return db, true, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log db: %w", err)
	}
	// Single writer per process; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure log db: %w", err)
	}
	return db, nil
}

// schemaCompatible reports whether an existing logs table (if any) matches
// the expected column set.
func schemaCompatible(db *sql.DB) (bool, error) {
	rows, err := db.Query(`PRAGMA table_info(logs)`)
	if err != nil {
		return false, fmt.Errorf("failed to inspect log schema: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("failed to scan log schema: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(cols) == 0 {
		// No table yet: compatible, schema will be created.
		return true, nil
	}
	if len(cols) != len(expectedColumns) {
		return false, nil
	}
	for i, want := range expectedColumns {
		if cols[i] != want {
			return false, nil
		}
	}
	return true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write appends one event. It never returns an error: events below the
// minimum level are dropped, and persistence failures are recorded in memory
// for the operator view.
func (s *Store) Write(e Event) {
	if levelRank[e.Level] < s.minLevel {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var data string
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			data = string(b)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO logs (timestamp, level, component, event, message, trace_id,
			conversation_id, token_id, request_id, error_code, status_code, hint, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Level, e.Component, e.Event,
		e.Message, e.TraceID, e.ConversationID, e.TokenID, e.RequestID,
		e.ErrorCode, e.StatusCode, e.Hint, data,
	)
	if err != nil {
		s.writeFailures.Add(1)
		s.lastWriteErr.Store(err.Error())
	}
}

// WriteFailures returns the count of events lost to persistence errors and
// the most recent error text.
func (s *Store) WriteFailures() (int64, string) {
	msg, _ := s.lastWriteErr.Load().(string)
	return s.writeFailures.Load(), msg
}

// List returns events matching the filter, newest first.
func (s *Store) List(f Filter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.Level != "" {
		add("level = ?", f.Level)
	}
	if f.Component != "" {
		add("component = ?", f.Component)
	}
	if f.Event != "" {
		add("event = ?", f.Event)
	}
	if f.TraceID != "" {
		add("trace_id = ?", f.TraceID)
	}
	if f.ConversationID != "" {
		add("conversation_id = ?", f.ConversationID)
	}
	if f.TokenID != "" {
		add("token_id = ?", f.TokenID)
	}
	if f.ErrorCode != "" {
		add("error_code = ?", f.ErrorCode)
	}
	if !f.Since.IsZero() {
		add("timestamp >= ?", f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		add("timestamp <= ?", f.Until.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT id, timestamp, level, component, event, message, trace_id,
		conversation_id, token_id, request_id, error_code, status_code, hint, data FROM logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	return s.queryEvents(query, args...)
}

// GetTrace returns all events for a trace in insertion order.
func (s *Store) GetTrace(traceID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT id, timestamp, level, component, event, message, trace_id,
		conversation_id, token_id, request_id, error_code, status_code, hint, data
		FROM logs WHERE trace_id = ? ORDER BY id ASC LIMIT ?`
	return s.queryEvents(query, traceID, limit)
}

// Stats aggregates totals and per-level/per-component counts over [from, to].
// Zero bounds are open.
func (s *Store) Stats(from, to time.Time) (*Stats, error) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if !to.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, to.UTC().Format(time.RFC3339Nano))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	stats := &Stats{ByLevel: map[string]int{}, ByComponent: map[string]int{}}

	rows, err := s.db.Query(`SELECT level, component, COUNT(*) FROM logs`+cond+` GROUP BY level, component`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level, component string
		var n int
		if err := rows.Scan(&level, &component, &n); err != nil {
			return nil, fmt.Errorf("failed to scan log stats: %w", err)
		}
		stats.Total += n
		stats.ByLevel[level] += n
		stats.ByComponent[component] += n
	}
	return stats, rows.Err()
}

func (s *Store) queryEvents(query string, args ...any) ([]*Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e    Event
			ts   string
			data string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Component, &e.Event, &e.Message,
			&e.TraceID, &e.ConversationID, &e.TokenID, &e.RequestID,
			&e.ErrorCode, &e.StatusCode, &e.Hint, &data); err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &e.Data)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
