package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmailTaken is returned when signing up with an email that already has an account
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNoSession is returned when a session token is absent, unknown or expired
	ErrNoSession = errors.New("no active session")
	// ErrUserNotFound is returned by stores when no user matches
	ErrUserNotFound = errors.New("user not found")
)

// User is an account that owns receipts
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session ties a browser cookie to a user until it expires
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists users and sessions
type Store interface {
	// CreateUser inserts a user, returning ErrEmailTaken if the email exists
	CreateUser(ctx context.Context, user *User) error

	// GetUser returns the user with the given ID or ErrUserNotFound
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByEmail returns the user with the given email or ErrUserNotFound
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateSession stores a new session
	CreateSession(ctx context.Context, session *Session) error

	// GetSession returns the session for a token or ErrNoSession.
	// Expiry is checked by the caller.
	GetSession(ctx context.Context, token string) (*Session, error)

	// DeleteSession removes a session; deleting an unknown token is not an error
	DeleteSession(ctx context.Context, token string) error

	// DeleteExpiredSessions removes sessions expired at or before now and
	// returns how many were removed
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}
