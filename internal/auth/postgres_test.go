package auth

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// These specs need a migrated database; point FINTRACK_TEST_DATABASE_URL at one to run them.
var _ = Describe("PostgresStore", func() {
	var (
		ctx   context.Context
		store *PostgresStore
	)

	BeforeEach(func() {
		dsn := os.Getenv("FINTRACK_TEST_DATABASE_URL")
		if dsn == "" {
			Skip("FINTRACK_TEST_DATABASE_URL not set")
		}
		ctx = context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)
		store = NewPostgresStore(pool)
	})

	It("round-trips users and rejects duplicate emails", func() {
		user := &User{
			ID:           uuid.NewString(),
			Email:        uuid.NewString() + "@example.com",
			PasswordHash: "hash",
			CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		}
		Expect(store.CreateUser(ctx, user)).To(Succeed())

		got, err := store.GetUserByEmail(ctx, user.Email)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(user.ID))

		dup := *user
		dup.ID = uuid.NewString()
		Expect(store.CreateUser(ctx, &dup)).To(MatchError(ErrEmailTaken))
	})

	It("creates, reads and deletes sessions", func() {
		user := &User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
		Expect(store.CreateUser(ctx, user)).To(Succeed())

		session := &Session{Token: uuid.NewString(), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
		Expect(store.CreateSession(ctx, session)).To(Succeed())

		got, err := store.GetSession(ctx, session.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UserID).To(Equal(user.ID))

		Expect(store.DeleteSession(ctx, session.Token)).To(Succeed())
		_, err = store.GetSession(ctx, session.Token)
		Expect(err).To(MatchError(ErrNoSession))
	})

	It("deletes only expired sessions", func() {
		user := &User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
		Expect(store.CreateUser(ctx, user)).To(Succeed())

		now := time.Now().UTC().Truncate(time.Microsecond)
		expired := &Session{Token: uuid.NewString(), UserID: user.ID, ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
		live := &Session{Token: uuid.NewString(), UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
		Expect(store.CreateSession(ctx, expired)).To(Succeed())
		Expect(store.CreateSession(ctx, live)).To(Succeed())

		n, err := store.DeleteExpiredSessions(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		_, err = store.GetSession(ctx, expired.Token)
		Expect(err).To(MatchError(ErrNoSession))
		_, err = store.GetSession(ctx, live.Token)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns ErrUserNotFound for unknown IDs", func() {
		_, err := store.GetUser(ctx, uuid.NewString())
		Expect(err).To(MatchError(ErrUserNotFound))
	})
})
