package db

import (
	"database/sql"
	"fmt"
	"time"
)

type Session struct {
	ID             string
	UserID         sql.NullString
	Name           string
	WorkspaceDir   string
	ForkedFrom     sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt sql.NullTime
}

const sessionCols = "id, user_id, name, workspace_dir, forked_from, created_at, updated_at, last_activity_at"

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	s := &Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.WorkspaceDir, &s.ForkedFrom, &s.CreatedAt, &s.UpdatedAt, &s.LastActivityAt)
	return s, err
}

func (d *DB) CreateSession(id, userID, name, workspaceDir, forkedFrom string) error {
	_, err := d.Exec(
		`INSERT INTO sessions (id, user_id, name, workspace_dir, forked_from, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NOW(), NOW())`,
		id, userID, name, workspaceDir, forkedFrom,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches a session regardless of owner; callers enforce
// ownership. A NULL user_id means the session is unowned (see DESIGN.md).
func (d *DB) GetSession(id string) (*Session, error) {
	s, err := scanSession(d.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListSessionsWithPreview returns every session visible to userID (its own
// plus legacy NULL-owned rows, per the resolved Open Question) together with
// the chronologically last message's content, truncated to 100 chars with a
// trailing ellipsis, fetched in a single aggregate query rather than N+1.
type SessionWithPreview struct {
	Session
	Preview string
}

func (d *DB) ListSessionsWithPreview(userID string) ([]*SessionWithPreview, error) {
	rows, err := d.Query(`
		SELECT s.id, s.user_id, s.name, s.workspace_dir, s.forked_from, s.created_at, s.updated_at, s.last_activity_at,
		       COALESCE(
		           CASE
		               WHEN length(m.content) > 100 THEN left(m.content, 100) || '…'
		               ELSE m.content
		           END, '') AS preview
		FROM sessions s
		LEFT JOIN LATERAL (
			SELECT content FROM messages WHERE session_id = s.id ORDER BY created_at DESC LIMIT 1
		) m ON true
		WHERE s.user_id = $1 OR s.user_id IS NULL
		ORDER BY s.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionWithPreview
	for rows.Next() {
		sp := &SessionWithPreview{}
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.WorkspaceDir, &sp.ForkedFrom, &sp.CreatedAt, &sp.UpdatedAt, &sp.LastActivityAt, &sp.Preview); err != nil {
			return nil, fmt.Errorf("scan session preview: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (d *DB) RenameSession(id, name string) error {
	_, err := d.Exec("UPDATE sessions SET name = $2, updated_at = NOW() WHERE id = $1", id, name)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

func (d *DB) TouchSession(id string) error {
	_, err := d.Exec("UPDATE sessions SET updated_at = NOW(), last_activity_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (d *DB) DeleteSession(id string) error {
	_, err := d.Exec("DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ForkSession copies the source session row (under a new id/name) and every
// one of its messages, in chronological order, into the new row. The new
// session's forkedFrom points at source; its workspaceDir is computed by the
// caller (the relative "{newId}/workspace" form).
func (d *DB) ForkSession(sourceID, newID, newName, workspaceDir, userID string) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("fork session begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, user_id, name, workspace_dir, forked_from, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, NOW(), NOW())`,
		newID, userID, newName, workspaceDir, sourceID,
	); err != nil {
		return fmt.Errorf("fork session insert: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (session_id, role, content, created_at)
		 SELECT $1, role, content, created_at FROM messages WHERE session_id = $2 ORDER BY created_at ASC`,
		newID, sourceID,
	); err != nil {
		return fmt.Errorf("fork session copy messages: %w", err)
	}

	return tx.Commit()
}
