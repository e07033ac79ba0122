// Package auth implements the password/token slice of the persistence port
// (C7): bcrypt-hashed credentials and random bearer tokens with a 30-day TTL.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/agentserver/sessionrt/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// tokenTTL is 30 days: long enough for long-lived CLI and websocket
// clients, which have no refresh flow.
const tokenTTL = 30 * 24 * time.Hour

type Auth struct {
	db *db.DB
}

func New(database *db.DB) *Auth {
	return &Auth{db: database}
}

// Register creates a new user with a bcrypt-hashed password.
func (a *Auth) Register(id, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	h := string(hash)
	return a.db.CreateUser(id, username, &h)
}

// Authenticate verifies credentials and returns the user on success.
func (a *Auth) Authenticate(username, password string) (*db.User, bool) {
	user, err := a.db.GetUserByUsername(username)
	if err != nil || user == nil || user.PasswordHash == nil {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return nil, false
	}
	return user, true
}

// IssueToken generates a random 32-byte hex token, stores it with a 30-day
// expiry, and returns it.
func (a *Auth) IssueToken(userID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	if err := a.db.CreateToken(token, userID, time.Now().Add(tokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// Validate checks the token against the database and returns the owning
// user, matching the `validate(token) → user` contract.
func (a *Auth) Validate(token string) (*db.User, bool) {
	userID, err := a.db.ValidateToken(token)
	if err != nil || userID == "" {
		return nil, false
	}
	user, err := a.db.GetUserByID(userID)
	if err != nil || user == nil {
		return nil, false
	}
	return user, true
}
