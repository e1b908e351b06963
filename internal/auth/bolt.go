package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	usersBucket        = []byte("users")
	usersByEmailBucket = []byte("users_by_email")
	sessionsBucket     = []byte("sessions")
)

// BoltStore implements Store on a shared bbolt database
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates the auth buckets if needed
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, usersByEmailBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// CreateUser inserts a user and its email index entry in one transaction
func (b *BoltStore) CreateUser(_ context.Context, user *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		byEmail := tx.Bucket(usersByEmailBucket)
		if byEmail.Get([]byte(user.Email)) != nil {
			return ErrEmailTaken
		}
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		if err := tx.Bucket(usersBucket).Put([]byte(user.ID), data); err != nil {
			return err
		}
		return byEmail.Put([]byte(user.Email), []byte(user.ID))
	})
}

// GetUser retrieves a user by ID
func (b *BoltStore) GetUser(_ context.Context, id string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user through the email index
func (b *BoltStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(usersByEmailBucket).Get([]byte(email))
		if id == nil {
			return ErrUserNotFound
		}
		var err error
		user, err = getUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func getUser(tx *bbolt.Tx, id []byte) (*User, error) {
	data := tx.Bucket(usersBucket).Get(id)
	if data == nil {
		return nil, ErrUserNotFound
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return &user, nil
}

// CreateSession stores a session keyed by its token
func (b *BoltStore) CreateSession(_ context.Context, session *Session) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshaling session: %w", err)
		}
		return tx.Bucket(sessionsBucket).Put([]byte(session.Token), data)
	})
}

// GetSession retrieves a session by token
func (b *BoltStore) GetSession(_ context.Context, token string) (*Session, error) {
	var session Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(token))
		if data == nil {
			return ErrNoSession
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session by token
func (b *BoltStore) DeleteSession(_ context.Context, token string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}

// DeleteExpiredSessions removes every session that expired at or before now
func (b *BoltStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("unmarshaling session: %w", err)
			}
			if !now.Before(session.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
