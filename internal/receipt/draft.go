package receipt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransition is returned when a draft is asked to move to a step it cannot reach
	ErrInvalidTransition = errors.New("invalid draft transition")
	// ErrItemIndex is returned when an item index is out of range
	ErrItemIndex = errors.New("item index out of range")
)

// Step is where a draft sits in the add-receipt flow
type Step string

const (
	StepUpload Step = "upload"
	StepReview Step = "review"
	StepEdit   Step = "edit"
)

// Image is an uploaded receipt image waiting to be stored
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Draft is the mutable, not yet persisted receipt of one session
type Draft struct {
	Step     Step
	Receipt  Receipt
	Image    *Image
	Warnings []string
}

func blankItem() LineItem {
	return LineItem{Quantity: 1, Price: decimal.Zero}
}

// NewDraft returns a draft waiting for an upload with one blank item
func NewDraft() *Draft {
	return &Draft{
		Step: StepUpload,
		Receipt: Receipt{
			TotalAmount: decimal.Zero,
			Items:       []LineItem{blankItem()},
		},
	}
}

// Reset returns the draft to its initial state
func (d *Draft) Reset() {
	*d = *NewDraft()
}

// Load replaces the draft contents with an extraction result and moves to review
func (d *Draft) Load(candidate *Receipt, img *Image) error {
	if d.Step != StepUpload {
		return fmt.Errorf("%w: load from %s", ErrInvalidTransition, d.Step)
	}
	d.Receipt = *candidate.Clone()
	d.Image = img
	d.Step = StepReview
	return nil
}

// Edit moves from review to edit
func (d *Draft) Edit() error {
	if d.Step != StepReview {
		return fmt.Errorf("%w: edit from %s", ErrInvalidTransition, d.Step)
	}
	d.Step = StepEdit
	return nil
}

// Review moves from edit back to review
func (d *Draft) Review() error {
	if d.Step != StepEdit {
		return fmt.Errorf("%w: review from %s", ErrInvalidTransition, d.Step)
	}
	d.Step = StepReview
	return nil
}

func (d *Draft) SetMerchant(merchant string) {
	d.Receipt.Merchant = merchant
}

func (d *Draft) SetDate(date Date) {
	d.Receipt.Date = date
}

func (d *Draft) SetTotal(total decimal.Decimal) {
	d.Receipt.TotalAmount = total
}

// UpdateItem replaces the item at index i, leaving every other item where it was
func (d *Draft) UpdateItem(i int, item LineItem) error {
	if i < 0 || i >= len(d.Receipt.Items) {
		return fmt.Errorf("%w: %d", ErrItemIndex, i)
	}
	items := append([]LineItem(nil), d.Receipt.Items...)
	items[i] = item
	d.Receipt.Items = items
	return nil
}

// AddItem appends a blank item
func (d *Draft) AddItem() {
	d.Receipt.Items = append(append([]LineItem(nil), d.Receipt.Items...), blankItem())
}

// RemoveItem deletes the item at index i; later items shift down by one
func (d *Draft) RemoveItem(i int) error {
	if i < 0 || i >= len(d.Receipt.Items) {
		return fmt.Errorf("%w: %d", ErrItemIndex, i)
	}
	items := make([]LineItem, 0, len(d.Receipt.Items)-1)
	items = append(items, d.Receipt.Items[:i]...)
	items = append(items, d.Receipt.Items[i+1:]...)
	d.Receipt.Items = items
	return nil
}

// Finalize validates the draft and returns a copy ready to be stored
func (d *Draft) Finalize() (*Receipt, error) {
	if d.Step == StepUpload {
		return nil, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, d.Step)
	}
	r := d.Receipt.Clone()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reconcile compares the item subtotal with the declared total. The two are
// allowed to disagree; the result is only ever shown as a warning.
func Reconcile(r *Receipt) []string {
	subtotal := decimal.Zero
	for _, item := range r.Items {
		subtotal = subtotal.Add(item.Subtotal())
	}
	if subtotal.Equal(r.TotalAmount) {
		return nil
	}
	return []string{fmt.Sprintf(
		"Items add up to %s but the total is %s.",
		subtotal.StringFixed(2), r.TotalAmount.StringFixed(2),
	)}
}

type draftEntry struct {
	mu       sync.Mutex
	draft    *Draft
	lastUsed time.Time
}

// DraftStore keeps one in-memory draft per session
type DraftStore struct {
	mu     sync.Mutex
	drafts map[string]*draftEntry
	now    func() time.Time
}

// NewDraftStore creates an empty DraftStore
func NewDraftStore() *DraftStore {
	return &DraftStore{
		drafts: make(map[string]*draftEntry),
		now:    time.Now,
	}
}

// With runs fn on the draft for key, creating it if needed. Calls for the
// same key are serialized; different keys never block each other.
func (s *DraftStore) With(key string, fn func(*Draft)) {
	s.mu.Lock()
	e, ok := s.drafts[key]
	if !ok {
		e = &draftEntry{draft: NewDraft()}
		s.drafts[key] = e
	}
	e.lastUsed = s.now()
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.draft)
}

// Delete forgets the draft for key
func (s *DraftStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
}

// Prune drops drafts untouched for longer than maxAge and returns how many were removed
func (s *DraftStore) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for key, e := range s.drafts {
		if e.lastUsed.Before(cutoff) {
			delete(s.drafts, key)
			removed++
		}
	}
	return removed
}

// Len reports how many drafts are held
func (s *DraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}
