package db

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID           string
	Username     string
	PasswordHash *string
	Role         string
	CreatedAt    time.Time
}

func (d *DB) CreateUser(id, username string, passwordHash *string) error {
	_, err := d.Exec(
		"INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)",
		id, username, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (d *DB) GetUserByID(id string) (*User, error) {
	u := &User{}
	err := d.QueryRow(
		"SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (d *DB) GetUserByUsername(username string) (*User, error) {
	u := &User{}
	err := d.QueryRow(
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1", username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (d *DB) ListUsers() ([]*User, error) {
	rows, err := d.Query("SELECT id, username, password_hash, role, created_at FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (d *DB) DeleteUser(id string) error {
	_, err := d.Exec("DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
