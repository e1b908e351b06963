package scanning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Item is one purchased line as reported by the analysis backend
type Item struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// ReceiptData is a validated candidate receipt extracted from an image.
// Date is nil when the receipt carries no readable date.
type ReceiptData struct {
	Merchant    string          `json:"merchant"`
	Date        *time.Time      `json:"date"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []Item          `json:"items"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts a candidate receipt
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
