package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// PostgresStore implements Store on the users and sessions tables
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an already migrated pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateUser inserts a user
func (p *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return p.getUser(ctx, `SELECT id::text, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email
func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.getUser(ctx, `SELECT id::text, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (p *PostgresStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	err := p.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return &user, nil
}

// CreateSession inserts a session
func (p *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token
func (p *PostgresStore) GetSession(ctx context.Context, token string) (*Session, error) {
	var session Session
	err := p.pool.QueryRow(ctx,
		`SELECT token, user_id::text, expires_at, created_at FROM sessions WHERE token = $1`,
		token,
	).Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("selecting session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes a session by token
func (p *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session that expired at or before now
func (p *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
