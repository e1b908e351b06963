package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at sign-up
const MinPasswordLength = 6

// DefaultSessionTTL is how long a session stays valid after sign-in
const DefaultSessionTTL = 30 * 24 * time.Hour

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// InputError describes a sign-up form problem that is safe to show to the user
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// Service handles sign-up, sign-in, sign-out and session lookup
type Service struct {
	store      Store
	sessionTTL time.Duration
	timeSource TimeSource
}

// NewService creates a new auth Service. A zero ttl uses DefaultSessionTTL.
func NewService(store Store, ttl time.Duration) *Service {
	return NewServiceWithDeps(store, ttl, defaultTimeSource{})
}

// NewServiceWithDeps creates a new auth Service with a custom clock for testing
func NewServiceWithDeps(store Store, ttl time.Duration, timeSrc TimeSource) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		store:      store,
		sessionTTL: ttl,
		timeSource: timeSrc,
	}
}

// SessionTTL reports how long new sessions last
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new account
func (s *Service) SignUp(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &InputError{Message: "Please enter a valid email address."}
	}
	if len(password) < MinPasswordLength {
		return nil, &InputError{Message: fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.timeSource.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	slog.Info("User signed up", "user_id", user.ID)
	return user, nil
}

// SignIn checks the credentials and starts a new session
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, *User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}

	now := s.timeSource.Now()
	session := &Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}
	return session, user, nil
}

// SignOut ends the session for token
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CurrentUser resolves a session token to its user. Expired sessions are removed.
func (s *Service) CurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	if !s.timeSource.Now().Before(session.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			slog.Warn("Failed to delete expired session", "error", err)
		}
		return nil, ErrNoSession
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("getting session user: %w", err)
	}
	return user, nil
}

// PruneSessions deletes every expired session and returns how many were removed
func (s *Service) PruneSessions(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.timeSource.Now())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return n, nil
}

// newToken returns 32 random bytes hex encoded
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
