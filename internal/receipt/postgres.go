package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const selectReceipt = `SELECT id::text, user_id::text, merchant, date, total_amount::text, items,
	COALESCE(image_ref, ''), COALESCE(content_type, ''), created_at
	FROM receipts`

// Postgres implements DB on the receipts table
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a receipt store on an already migrated pool
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// InsertReceipt inserts one row; a duplicate ID is an error, never an update
func (p *Postgres) InsertReceipt(ctx context.Context, receipt *Receipt) error {
	items, err := EncodeItems(receipt.Items)
	if err != nil {
		return err
	}

	var date *time.Time
	if receipt.Date.Valid() {
		date = &receipt.Date.Time
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO receipts (id, user_id, merchant, date, total_amount, items, image_ref, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)`,
		receipt.ID, receipt.Owner, receipt.Merchant, date, receipt.TotalAmount.StringFixed(2),
		items, nullIfEmpty(receipt.ImageRef), nullIfEmpty(receipt.ContentType), receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves one of owner's receipts
func (p *Postgres) GetReceipt(ctx context.Context, owner, id string) (*Receipt, error) {
	row := p.pool.QueryRow(ctx, selectReceipt+` WHERE user_id = $1 AND id::text = $2`, owner, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns owner's receipts, newest date first with undated receipts last
func (p *Postgres) ListReceipts(ctx context.Context, owner string) ([]*Receipt, error) {
	rows, err := p.pool.Query(ctx,
		selectReceipt+` WHERE user_id = $1 ORDER BY date DESC NULLS LAST, created_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r      Receipt
		date   *time.Time
		amount string
		items  string
	)
	err := row.Scan(&r.ID, &r.Owner, &r.Merchant, &date, &amount, &items,
		&r.ImageRef, &r.ContentType, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if date != nil {
		r.Date = DateOf(*date)
	}
	if r.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing total_amount %q: %w", amount, err)
	}
	if r.Items, err = DecodeItems(items); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
