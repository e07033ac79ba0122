package db

import (
	"database/sql"
	"fmt"
	"time"
)

func (d *DB) CreateToken(token, userID string, expiresAt time.Time) error {
	_, err := d.Exec(
		"INSERT INTO auth_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)",
		token, userID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// ValidateToken returns the owning user id for a live token, purging expired
// tokens best-effort as it goes ("expired tokens purged on touch").
func (d *DB) ValidateToken(token string) (string, error) {
	_ = d.DeleteExpiredTokens() // best-effort purge; failure does not block validation
	var userID string
	err := d.QueryRow(
		"SELECT user_id FROM auth_tokens WHERE token = $1 AND expires_at > NOW()", token,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("validate token: %w", err)
	}
	return userID, nil
}

func (d *DB) DeleteExpiredTokens() error {
	_, err := d.Exec("DELETE FROM auth_tokens WHERE expires_at < NOW()")
	if err != nil {
		return fmt.Errorf("delete expired tokens: %w", err)
	}
	return nil
}
