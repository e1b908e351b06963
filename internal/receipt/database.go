package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

var receiptsBucket = []byte("receipts")

// DB defines the interface for receipt persistence
type DB interface {
	// InsertReceipt stores a new receipt; it never overwrites an existing one
	InsertReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt retrieves one of owner's receipts, or ErrNotFound
	GetReceipt(ctx context.Context, owner, id string) (*Receipt, error)

	// ListReceipts returns every receipt of owner, newest date first
	ListReceipts(ctx context.Context, owner string) ([]*Receipt, error)
}

// boltReceipt is the stored form of a receipt; items are kept as one opaque text value
type boltReceipt struct {
	ID          string          `json:"id"`
	Owner       string          `json:"user_id"`
	Merchant    string          `json:"merchant"`
	Date        Date            `json:"date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       string          `json:"items"`
	ImageRef    string          `json:"image_ref,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BoltDB implements DB with one nested bucket per owner inside the receipts bucket
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates the receipts bucket if needed
func NewBoltDB(db *bbolt.DB) (*BoltDB, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(receiptsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// InsertReceipt stores a receipt in its owner's bucket
func (b *BoltDB) InsertReceipt(_ context.Context, receipt *Receipt) error {
	items, err := EncodeItems(receipt.Items)
	if err != nil {
		return err
	}
	data, err := json.Marshal(boltReceipt{
		ID:          receipt.ID,
		Owner:       receipt.Owner,
		Merchant:    receipt.Merchant,
		Date:        receipt.Date,
		TotalAmount: receipt.TotalAmount,
		Items:       items,
		ImageRef:    receipt.ImageRef,
		ContentType: receipt.ContentType,
		CreatedAt:   receipt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		owned, err := tx.Bucket(receiptsBucket).CreateBucketIfNotExists([]byte(receipt.Owner))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}
		if owned.Get([]byte(receipt.ID)) != nil {
			return fmt.Errorf("receipt %s already exists", receipt.ID)
		}
		return owned.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by owner and ID
func (b *BoltDB) GetReceipt(_ context.Context, owner, id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		owned := tx.Bucket(receiptsBucket).Bucket([]byte(owner))
		if owned == nil {
			return ErrNotFound
		}
		data := owned.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		receipt, err = decodeBoltReceipt(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all of owner's receipts, newest date first
func (b *BoltDB) ListReceipts(_ context.Context, owner string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		owned := tx.Bucket(receiptsBucket).Bucket([]byte(owner))
		if owned == nil {
			return nil
		}
		return owned.ForEach(func(k, v []byte) error {
			receipt, err := decodeBoltReceipt(v)
			if err != nil {
				return err
			}
			receipts = append(receipts, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	SortNewestFirst(receipts)
	return receipts, nil
}

func decodeBoltReceipt(data []byte) (*Receipt, error) {
	var stored boltReceipt
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	items, err := DecodeItems(stored.Items)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", stored.ID, err)
	}
	return &Receipt{
		ID:          stored.ID,
		Owner:       stored.Owner,
		Merchant:    stored.Merchant,
		Date:        stored.Date,
		TotalAmount: stored.TotalAmount,
		Items:       items,
		ImageRef:    stored.ImageRef,
		ContentType: stored.ContentType,
		CreatedAt:   stored.CreatedAt,
	}, nil
}
