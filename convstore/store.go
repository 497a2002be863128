// Package convstore persists conversations and their messages.
//
// The store is a single embedded sqlite file with two tables. Writes go
// through one connection; per-conversation operations additionally serialize
// under an in-process guard keyed by conversation id, which the inbound
// pipeline shares via Lock.
package convstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/collab"
)

// Status of a conversation. Transitions are monotone: active may become
// concluded or timeout, never the reverse.
type Status string

const (
	StatusActive    Status = "active"
	StatusConcluded Status = "concluded"
	StatusTimeout   Status = "timeout"
)

// Conversation is a durable multi-turn session.
type Conversation struct {
	ID            string        `json:"id"`
	ContactID     string        `json:"contact_id,omitempty"`
	ContactName   string        `json:"contact_name,omitempty"`
	TokenID       string        `json:"token_id,omitempty"`
	Direction     a2a.Direction `json:"direction"`
	Status        Status        `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	MessageCount  int           `json:"message_count"`

	Summary                  string         `json:"summary,omitempty"`
	OwnerSummary             string         `json:"owner_summary,omitempty"`
	OwnerRelevance           a2a.Relevance  `json:"owner_relevance,omitempty"`
	OwnerGoalsTouched        []string       `json:"owner_goals_touched,omitempty"`
	OwnerActionItems         []string       `json:"owner_action_items,omitempty"`
	CallerActionItems        []string       `json:"caller_action_items,omitempty"`
	JointActionItems         []string       `json:"joint_action_items,omitempty"`
	CollaborationOpportunity map[string]any `json:"collaboration_opportunity,omitempty"`
	FollowUp                 string         `json:"follow_up,omitempty"`
	Notes                    string         `json:"notes,omitempty"`

	CollabState *collab.State `json:"collab_state,omitempty"`

	// Messages is populated by Get and by List with IncludeMessages.
	Messages []*Message `json:"messages,omitempty"`
}

// Message is one conversation turn half. Messages are append-only;
// compression later replaces Content with a short digest.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Direction      a2a.Direction  `json:"direction"`
	Role           a2a.Role       `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Compressed     bool           `json:"compressed,omitempty"`
}

// Summarizer produces the structured summary persisted at conclusion.
type Summarizer func(messages []*Message, ownerContext string) (*a2a.Summary, error)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	token_id TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	started_at TEXT NOT NULL,
	last_message_at TEXT NOT NULL,
	ended_at TEXT,
	message_count INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	owner_summary TEXT NOT NULL DEFAULT '',
	owner_relevance TEXT NOT NULL DEFAULT '',
	owner_goals_touched TEXT NOT NULL DEFAULT '',
	owner_action_items TEXT NOT NULL DEFAULT '',
	caller_action_items TEXT NOT NULL DEFAULT '',
	joint_action_items TEXT NOT NULL DEFAULT '',
	collaboration_opportunity TEXT NOT NULL DEFAULT '',
	follow_up TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	collab_state TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	timestamp TEXT NOT NULL,
	direction TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	compressed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_conversations_token ON conversations(token_id);
CREATE INDEX IF NOT EXISTS idx_conversations_contact ON conversations(contact_id);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations(last_message_at);
`

// Store owns the conversations database file.
type Store struct {
	db    *sql.DB
	locks *lockTable

	// now is the clock, injectable for tests.
	now func() time.Time
}

// Open opens (or creates) the conversation database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversation store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure conversation db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply conversation schema: %w", err)
	}
	return &Store{db: db, locks: newLockTable(), now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lock acquires the per-conversation guard and returns its release func.
// The inbound pipeline holds it from the inbound append through metering so
// turns on one conversation serialize; different conversations proceed in
// parallel.
func (s *Store) Lock(convID string) func() {
	return s.locks.lock(convID)
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return marshalJSON(list)
}

func unmarshalList(s string) []string {
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
