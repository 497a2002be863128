package convstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/collab"
)

// StartSpec describes a conversation to start or resume.
type StartSpec struct {
	// ID resumes an existing conversation when it already exists; empty
	// starts a fresh one with a generated id.
	ID          string
	ContactID   string
	ContactName string
	TokenID     string
	Direction   a2a.Direction
}

// Start creates a conversation, or returns the existing one when spec.ID is
// already known (resumed=true). Start is idempotent on id.
func (s *Store) Start(spec StartSpec) (*Conversation, bool, error) {
	if spec.ID != "" {
		existing, err := s.get(spec.ID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, a2a.ErrConversationNotFound) {
			return nil, false, err
		}
	}

	conv := &Conversation{
		ID:            spec.ID,
		ContactID:     spec.ContactID,
		ContactName:   spec.ContactName,
		TokenID:       spec.TokenID,
		Direction:     spec.Direction,
		Status:        StatusActive,
		StartedAt:     s.now().UTC(),
		LastMessageAt: s.now().UTC(),
	}
	if conv.ID == "" {
		conv.ID = a2a.NewConversationID()
	}
	if conv.Direction == "" {
		conv.Direction = a2a.DirectionInbound
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, contact_id, contact_name, token_id, direction,
			status, started_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.ContactID, conv.ContactName, conv.TokenID, string(conv.Direction),
		string(conv.Status), formatTime(conv.StartedAt), formatTime(conv.LastMessageAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, false, nil
}

// Get returns the conversation with its messages. messageLimit > 0 keeps
// only the most recent messages; 0 loads all of them.
func (s *Store) Get(convID string, messageLimit int) (*Conversation, error) {
	conv, err := s.get(convID)
	if err != nil {
		return nil, err
	}
	conv.Messages, err = s.messages(convID, messageLimit)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListFilter narrows List results. Zero fields are ignored.
type ListFilter struct {
	ContactID       string
	TokenID         string
	Status          Status
	Limit           int
	IncludeMessages bool
	MessageLimit    int
}

// List returns conversations newest-activity first.
func (s *Store) List(f ListFilter) ([]*Conversation, error) {
	var (
		where []string
		args  []any
	)
	if f.ContactID != "" {
		where = append(where, "contact_id = ?")
		args = append(args, f.ContactID)
	}
	if f.TokenID != "" {
		where = append(where, "token_id = ?")
		args = append(args, f.TokenID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + convCols + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_message_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if f.IncludeMessages {
		for _, conv := range out {
			conv.Messages, err = s.messages(conv.ID, f.MessageLimit)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SaveCollabState persists the last observed collaboration state.
func (s *Store) SaveCollabState(convID string, state *collab.State) error {
	res, err := s.db.Exec(`UPDATE conversations SET collab_state = ? WHERE id = ?`,
		marshalJSON(state), convID)
	if err != nil {
		return fmt.Errorf("failed to save collab state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", a2a.ErrConversationNotFound, convID)
	}
	return nil
}

// ConcludeOpts configure conversation conclusion.
type ConcludeOpts struct {
	// Summarizer produces the structured summary. A nil, failing or empty
	// summarizer never prevents conclusion.
	Summarizer Summarizer

	// OwnerContext is passed through to the summarizer.
	OwnerContext string

	// Status is the terminal status, StatusConcluded by default. The call
	// monitor concludes with StatusTimeout.
	Status Status

	// Reason is recorded in the conversation notes data, e.g.
	// "idle_timeout" or "max_duration".
	Reason string
}

// Conclude moves an active conversation to a terminal status, attaching the
// summarizer's output when it produces one. Conclude is idempotent and safe
// under concurrent callers: the first caller wins, later callers get the
// already-terminal record back.
func (s *Store) Conclude(convID string, opts ConcludeOpts) (*Conversation, error) {
	release := s.locks.lock(convID)
	defer release()

	conv, err := s.get(convID)
	if err != nil {
		return nil, err
	}
	if conv.Status != StatusActive {
		conv.Messages, err = s.messages(convID, 0)
		if err != nil {
			return nil, err
		}
		return conv, nil
	}

	target := opts.Status
	if target == "" {
		target = StatusConcluded
	}

	messages, err := s.messages(convID, 0)
	if err != nil {
		return nil, err
	}

	var summary *a2a.Summary
	if opts.Summarizer != nil {
		// The status change is authoritative; a failed summarizer only
		// leaves the summary fields empty.
		summary, _ = opts.Summarizer(messages, opts.OwnerContext)
	}
	if summary == nil {
		summary = &a2a.Summary{}
	}
	if opts.Reason != "" {
		note := "ended: " + opts.Reason
		if summary.Notes != "" {
			note += "; " + summary.Notes
		}
		summary.Notes = note
	}

	now := s.now().UTC()
	_, err = s.db.Exec(`
		UPDATE conversations SET status = ?, ended_at = ?, summary = ?, owner_summary = ?,
			owner_relevance = ?, owner_goals_touched = ?, owner_action_items = ?,
			caller_action_items = ?, joint_action_items = ?, collaboration_opportunity = ?,
			follow_up = ?, notes = ?
		WHERE id = ? AND status = ?`,
		string(target), formatTime(now), summary.Summary, summary.OwnerSummary,
		string(summary.OwnerRelevance), marshalList(summary.OwnerGoalsTouched),
		marshalList(summary.OwnerActionItems), marshalList(summary.CallerActionItems),
		marshalList(summary.JointActionItems), marshalJSON(summary.CollaborationOpportunity),
		summary.FollowUp, summary.Notes,
		convID, string(StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to conclude conversation: %w", err)
	}

	conv, err = s.get(convID)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages
	return conv, nil
}

// Timeout concludes the conversation with status timeout and no summarizer.
func (s *Store) Timeout(convID string) (*Conversation, error) {
	return s.Conclude(convID, ConcludeOpts{Status: StatusTimeout, Reason: "timeout"})
}

// ActiveIdleSince returns active conversations whose last activity is older
// than the threshold. The call monitor uses it to recover tracking after a
// restart.
func (s *Store) ActiveIdleSince(threshold time.Duration) ([]*Conversation, error) {
	cutoff := s.now().UTC().Add(-threshold)
	rows, err := s.db.Query(`SELECT `+convCols+` FROM conversations
		WHERE status = ? AND last_message_at < ? ORDER BY last_message_at ASC`,
		string(StatusActive), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query idle conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// ContextView is the structured view used by owner notification and
// dashboards.
type ContextView struct {
	Conversation *Conversation `json:"conversation"`
	Recent       []*Message    `json:"recent"`
	TotalTurns   int           `json:"total_turns"`
}

// Context returns the conversation with its recentN most recent messages.
func (s *Store) Context(convID string, recentN int) (*ContextView, error) {
	conv, err := s.get(convID)
	if err != nil {
		return nil, err
	}
	if recentN <= 0 {
		recentN = 10
	}
	recent, err := s.messages(convID, recentN)
	if err != nil {
		return nil, err
	}
	return &ContextView{
		Conversation: conv,
		Recent:       recent,
		TotalTurns:   conv.MessageCount / 2,
	}, nil
}

const convCols = `id, contact_id, contact_name, token_id, direction, status,
	started_at, last_message_at, ended_at, message_count, summary, owner_summary,
	owner_relevance, owner_goals_touched, owner_action_items, caller_action_items,
	joint_action_items, collaboration_opportunity, follow_up, notes, collab_state`

func (s *Store) get(convID string) (*Conversation, error) {
	row := s.db.QueryRow(`SELECT `+convCols+` FROM conversations WHERE id = ?`, convID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", a2a.ErrConversationNotFound, convID)
	}
	return conv, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		conv                                 Conversation
		direction, status                    string
		startedAt, lastMessageAt             string
		endedAt                              sql.NullString
		goals, ownerItems, callerItems       string
		jointItems, opportunity, stateJSON   string
		relevance                            string
	)
	err := row.Scan(&conv.ID, &conv.ContactID, &conv.ContactName, &conv.TokenID,
		&direction, &status, &startedAt, &lastMessageAt, &endedAt, &conv.MessageCount,
		&conv.Summary, &conv.OwnerSummary, &relevance, &goals, &ownerItems,
		&callerItems, &jointItems, &opportunity, &conv.FollowUp, &conv.Notes, &stateJSON)
	if err != nil {
		return nil, err
	}

	conv.Direction = a2a.Direction(direction)
	conv.Status = Status(status)
	conv.StartedAt = parseTime(startedAt)
	conv.LastMessageAt = parseTime(lastMessageAt)
	if endedAt.Valid && endedAt.String != "" {
		t := parseTime(endedAt.String)
		conv.EndedAt = &t
	}
	conv.OwnerRelevance = a2a.Relevance(relevance)
	conv.OwnerGoalsTouched = unmarshalList(goals)
	conv.OwnerActionItems = unmarshalList(ownerItems)
	conv.CallerActionItems = unmarshalList(callerItems)
	conv.JointActionItems = unmarshalList(jointItems)
	if opportunity != "" {
		_ = json.Unmarshal([]byte(opportunity), &conv.CollaborationOpportunity)
	}
	if stateJSON != "" {
		var state collab.State
		if err := json.Unmarshal([]byte(stateJSON), &state); err == nil {
			conv.CollabState = &state
		}
	}
	return &conv, nil
}
