package receipt

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/fintrack/internal/auth"
)

// Runs against a migrated database named by FINTRACK_TEST_DATABASE_URL.
var _ = Describe("Postgres", func() {
	var (
		ctx   context.Context
		db    *Postgres
		owner string
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
		db = NewPostgres(pool)

		owner = uuid.NewString()
		users := auth.NewPostgresStore(pool)
		Expect(users.CreateUser(ctx, &auth.User{
			ID:           owner,
			Email:        owner + "@example.com",
			PasswordHash: "hash",
			CreatedAt:    time.Now().UTC(),
		})).To(Succeed())
	})

	stored := func(date Date, created time.Time) *Receipt {
		r := validReceipt()
		r.ID = uuid.NewString()
		r.Owner = owner
		r.Date = date
		r.CreatedAt = created.UTC().Truncate(time.Microsecond)
		return r
	}

	It("round-trips a receipt with its items", func() {
		r := stored(NewDate(2024, 1, 15), time.Now())
		r.ImageRef = owner + "/1_a.jpg"
		r.ContentType = "image/jpeg"
		Expect(db.InsertReceipt(ctx, r)).To(Succeed())

		got, err := db.GetReceipt(ctx, owner, r.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Merchant).To(Equal(r.Merchant))
		Expect(got.Date).To(Equal(r.Date))
		Expect(got.TotalAmount.StringFixed(2)).To(Equal("25.99"))
		Expect(got.Items).To(HaveLen(len(r.Items)))
		Expect(got.ImageRef).To(Equal(r.ImageRef))
		Expect(got.CreatedAt.Equal(r.CreatedAt)).To(BeTrue())
	})

	It("keeps a missing date as the zero date", func() {
		r := stored(Date{}, time.Now())
		Expect(db.InsertReceipt(ctx, r)).To(Succeed())
		got, err := db.GetReceipt(ctx, owner, r.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Date.Valid()).To(BeFalse())
		Expect(got.ImageRef).To(BeEmpty())
	})

	It("refuses a duplicate ID", func() {
		r := stored(NewDate(2024, 1, 15), time.Now())
		Expect(db.InsertReceipt(ctx, r)).To(Succeed())
		Expect(db.InsertReceipt(ctx, r)).NotTo(Succeed())
	})

	It("hides other owners' receipts", func() {
		r := stored(NewDate(2024, 1, 15), time.Now())
		Expect(db.InsertReceipt(ctx, r)).To(Succeed())

		_, err := db.GetReceipt(ctx, uuid.NewString(), r.ID)
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		_, err = db.GetReceipt(ctx, owner, "not-a-uuid")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("lists newest date first with undated receipts last", func() {
		base := time.Now()
		undated := stored(Date{}, base)
		older := stored(NewDate(2023, 6, 1), base)
		newer := stored(NewDate(2024, 6, 1), base)
		for _, r := range []*Receipt{undated, older, newer} {
			Expect(db.InsertReceipt(ctx, r)).To(Succeed())
		}

		receipts, err := db.ListReceipts(ctx, owner)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(3))
		Expect(receipts[0].ID).To(Equal(newer.ID))
		Expect(receipts[1].ID).To(Equal(older.ID))
		Expect(receipts[2].ID).To(Equal(undated.ID))
	})
})
