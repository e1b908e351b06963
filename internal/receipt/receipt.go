package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/fintrack/internal/scanning"
)

// ErrNotFound is returned when a receipt does not exist for the requesting owner
var ErrNotFound = errors.New("receipt not found")

const dateLayout = "2006-01-02"

// Date is a calendar date with no time of day. The zero Date means "no date".
type Date struct {
	time.Time
}

// NewDate returns the Date for the given day
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time of day from t
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses YYYY-MM-DD. A blank string gives the zero Date.
func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return Date{t}, nil
}

// Valid reports whether the date is set
func (d Date) Valid() bool {
	return !d.IsZero()
}

func (d Date) String() string {
	if !d.Valid() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalJSON encodes the date as "YYYY-MM-DD" or null
func (d Date) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts "YYYY-MM-DD", "" or null
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LineItem is one purchased item on a receipt
type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Subtotal is quantity times price
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Receipt represents one purchase receipt owned by a user
type Receipt struct {
	ID          string          `json:"id"`
	Owner       string          `json:"user_id"`
	Merchant    string          `json:"merchant"`
	Date        Date            `json:"date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []LineItem      `json:"items"`
	ImageRef    string          `json:"image_ref,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	// ImageURL is the public link to the image; it is filled in on read and never stored
	ImageURL string `json:"image_url,omitempty"`
}

// ValidationError lists the fields that keep a receipt from being saved.
// The messages only name form fields and are safe to show to the user.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, " ")
}

// Validate checks the invariants a receipt must satisfy before it is stored
func (r *Receipt) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(r.Merchant) == "" {
		verr.Problems = append(verr.Problems, "Merchant is required.")
	}
	if r.TotalAmount.IsNegative() {
		verr.Problems = append(verr.Problems, "Total amount cannot be negative.")
	}
	if len(r.Items) == 0 {
		verr.Problems = append(verr.Problems, "At least one item is required.")
	}
	for i, item := range r.Items {
		n := i + 1
		if strings.TrimSpace(item.Name) == "" {
			verr.Problems = append(verr.Problems, fmt.Sprintf("Item %d needs a name.", n))
		}
		if item.Quantity < 1 {
			verr.Problems = append(verr.Problems, fmt.Sprintf("Item %d quantity must be at least 1.", n))
		}
		if item.Price.IsNegative() {
			verr.Problems = append(verr.Problems, fmt.Sprintf("Item %d price cannot be negative.", n))
		}
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// Clone returns a copy that shares no item storage with r
func (r *Receipt) Clone() *Receipt {
	c := *r
	c.Items = append([]LineItem(nil), r.Items...)
	return &c
}

// fromScan converts validated scanner output into a candidate receipt
func fromScan(data *scanning.ReceiptData) *Receipt {
	r := &Receipt{
		Merchant:    data.Merchant,
		TotalAmount: data.TotalAmount,
		Items:       make([]LineItem, 0, len(data.Items)),
	}
	if data.Date != nil {
		r.Date = DateOf(*data.Date)
	}
	for _, item := range data.Items {
		r.Items = append(r.Items, LineItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return r
}

// EncodeItems flattens items into the text stored in the items column
func EncodeItems(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding items: %w", err)
	}
	return string(data), nil
}

// DecodeItems reverses EncodeItems
func DecodeItems(text string) ([]LineItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}
	return items, nil
}
