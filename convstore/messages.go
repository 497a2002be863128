package convstore

import (
	"encoding/json"
	"fmt"

	"github.com/openclaw/a2a"
)

// AppendMessage appends one turn half and bumps the conversation's counters
// in the same transaction, keeping message_count consistent with the actual
// rows. Appending to a terminal conversation is rejected.
func (s *Store) AppendMessage(convID string, msg *Message) (string, error) {
	if msg.ID == "" {
		msg.ID = a2a.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	if msg.Role == "" {
		msg.Role = a2a.RoleUser
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM conversations WHERE id = ?`, convID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("%w: %s", a2a.ErrConversationNotFound, convID)
	}
	if Status(status) != StatusActive {
		return "", fmt.Errorf("%w: %s is %s", a2a.ErrConversationClosed, convID, status)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, timestamp, direction, role, content, metadata, compressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		msg.ID, convID, formatTime(msg.Timestamp), string(msg.Direction), string(msg.Role),
		msg.Content, marshalJSON(msg.Metadata),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(`UPDATE conversations SET message_count = message_count + 1, last_message_at = ? WHERE id = ?`,
		formatTime(msg.Timestamp), convID)
	if err != nil {
		return "", fmt.Errorf("failed to bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit append: %w", err)
	}
	return msg.ID, nil
}

// CompressResult reports one compression sweep.
type CompressResult struct {
	Compressed int `json:"compressed"`
	Total      int `json:"total"`
}

// compressDigestRunes is how much of a message survives compression.
const compressDigestRunes = 120

// CompressOlderThan replaces the content of messages older than the given
// number of days with a short digest. Already-compressed messages are left
// alone. Returns how many were compressed and how many messages exist.
func (s *Store) CompressOlderThan(days int) (*CompressResult, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.Query(`SELECT id, content FROM messages WHERE compressed = 0 AND timestamp < ?`,
		formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query compressible messages: %w", err)
	}
	type victim struct{ id, content string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.content); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, v := range victims {
		digest := compressDigest(v.content)
		if _, err := s.db.Exec(`UPDATE messages SET content = ?, compressed = 1 WHERE id = ?`,
			digest, v.id); err != nil {
			return nil, fmt.Errorf("failed to compress message: %w", err)
		}
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	return &CompressResult{Compressed: len(victims), Total: total}, nil
}

func compressDigest(content string) string {
	runes := []rune(content)
	if len(runes) <= compressDigestRunes {
		return content
	}
	return string(runes[:compressDigestRunes]) + " … [compressed]"
}

// messages returns messages in chronological order. limit > 0 keeps only the
// most recent ones.
func (s *Store) messages(convID string, limit int) ([]*Message, error) {
	query := `SELECT id, conversation_id, timestamp, direction, role, content, metadata, compressed
		FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC`
	rows, err := s.db.Query(query, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg        Message
		ts         string
		direction  string
		role       string
		metadata   string
		compressed int
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &ts, &direction, &role,
		&msg.Content, &metadata, &compressed); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Timestamp = parseTime(ts)
	msg.Direction = a2a.Direction(direction)
	msg.Role = a2a.Role(role)
	msg.Compressed = compressed != 0
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &msg.Metadata)
	}
	return &msg, nil
}
