package db

import (
	"fmt"
	"time"
)

type Message struct {
	Seq       int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendMessage inserts a message and touches the session's updatedAt so
// the session list stays sorted by recent activity.
func (d *DB) AppendMessage(sessionID, role, content string, createdAt time.Time) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("append message begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO messages (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)",
		sessionID, role, content, createdAt,
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.Exec("UPDATE sessions SET updated_at = NOW(), last_activity_at = NOW() WHERE id = $1", sessionID); err != nil {
		return fmt.Errorf("touch session on append: %w", err)
	}
	return tx.Commit()
}

func (d *DB) ListMessages(sessionID string) ([]Message, error) {
	rows, err := d.Query(
		"SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = $1 ORDER BY created_at ASC, id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, rows.Err()
}
