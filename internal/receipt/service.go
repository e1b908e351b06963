package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/fintrack/internal/scanning"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	warnItemMismatch bool
}

// NewService creates a new Service with a UUID generator and the wall clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// WarnOnItemMismatch turns on the item subtotal vs total warning
func (s *Service) WarnOnItemMismatch(enabled bool) {
	s.warnItemMismatch = enabled
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	unsafeExtChars      = regexp.MustCompile(`[^a-zA-Z0-9.]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filepath.ToSlash(filename))
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	ext = unsafeExtChars.ReplaceAllString(ext, "")

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// phones produce very long names
	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// imageKey is <owner>/<unix millis>_<sanitized filename>
func imageKey(owner, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%s", owner, now.UnixMilli(), sanitizeFilename(filename))
}

// Scan analyses an image and returns the candidate receipt without storing anything
func (s *Service) Scan(ctx context.Context, img *Image) (*Receipt, error) {
	data, err := s.scanner.ScanReceipt(ctx, img.Data, img.ContentType)
	if err != nil {
		extractionsTotal.WithLabelValues("error").Inc()
		slog.Error("Failed to scan receipt",
			"filename", img.Filename,
			"content_type", img.ContentType,
			"file_size", len(img.Data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	extractionsTotal.WithLabelValues("success").Inc()
	return fromScan(data), nil
}

// Extract scans img and loads the result into draft. On any failure the
// draft is left exactly as it was.
func (s *Service) Extract(ctx context.Context, draft *Draft, img *Image) error {
	if draft.Step != StepUpload {
		return fmt.Errorf("%w: extract from %s", ErrInvalidTransition, draft.Step)
	}
	candidate, err := s.Scan(ctx, img)
	if err != nil {
		return err
	}
	if err := draft.Load(candidate, img); err != nil {
		return err
	}
	s.CheckDraft(draft)
	return nil
}

// Warnings returns the item subtotal warnings for r when they are enabled
func (s *Service) Warnings(r *Receipt) []string {
	if !s.warnItemMismatch {
		return nil
	}
	return Reconcile(r)
}

// CheckDraft refreshes the draft's warnings
func (s *Service) CheckDraft(draft *Draft) {
	draft.Warnings = s.Warnings(&draft.Receipt)
	for _, w := range draft.Warnings {
		slog.Warn("Receipt items do not match total", "merchant", draft.Receipt.Merchant, "warning", w)
	}
}

// Submit validates a receipt, stores its image (if any) and inserts it for
// owner. If the insert fails the image upload is undone.
func (s *Service) Submit(ctx context.Context, owner string, receipt *Receipt, img *Image) (*Receipt, error) {
	if err := receipt.Validate(); err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := s.timeSource.Now()
	record := receipt.Clone()
	record.ID = s.idGenerator.Generate()
	record.Owner = owner
	record.CreatedAt = now
	record.ImageRef = ""
	record.ContentType = ""
	record.ImageURL = ""
	record.TotalAmount = record.TotalAmount.Round(2)

	if img != nil && len(img.Data) > 0 {
		key, err := s.storage.Save(ctx, imageKey(owner, img.Filename, now), img.Data, img.ContentType)
		if err != nil {
			submissionsTotal.WithLabelValues("storage_error").Inc()
			return nil, fmt.Errorf("saving image: %w", err)
		}
		record.ImageRef = key
		record.ContentType = img.ContentType
	}

	if err := s.db.InsertReceipt(ctx, record); err != nil {
		submissionsTotal.WithLabelValues("db_error").Inc()
		if record.ImageRef != "" {
			s.removeOrphan(ctx, record.ImageRef)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	record.ImageURL = s.ImageURL(record)
	submissionsTotal.WithLabelValues("success").Inc()
	slog.Info("Receipt added", "id", record.ID, "owner", owner, "merchant", record.Merchant, "image", record.ImageRef)
	return record, nil
}

// removeOrphan deletes an image whose receipt could not be inserted
func (s *Service) removeOrphan(ctx context.Context, key string) {
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.storage.Delete(ctx, key); err != nil {
		compensationsTotal.WithLabelValues("failed").Inc()
		slog.Error("Failed to remove orphaned receipt image", "key", key, "error", err)
		return
	}
	compensationsTotal.WithLabelValues("deleted").Inc()
}

// SubmitDraft finalizes draft and submits it; the draft is reset on success
func (s *Service) SubmitDraft(ctx context.Context, owner string, draft *Draft) (*Receipt, error) {
	receipt, err := draft.Finalize()
	if err != nil {
		return nil, err
	}
	saved, err := s.Submit(ctx, owner, receipt, draft.Image)
	if err != nil {
		return nil, err
	}
	draft.Reset()
	return saved, nil
}

// ListReceipts returns owner's receipts, newest first, with public image links filled in
func (s *Service) ListReceipts(ctx context.Context, owner string) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	for _, r := range receipts {
		r.ImageURL = s.ImageURL(r)
	}
	return receipts, nil
}

// Dashboard fetches owner's receipts and summarizes them
func (s *Service) Dashboard(ctx context.Context, owner string) (*Summary, error) {
	receipts, err := s.ListReceipts(ctx, owner)
	if err != nil {
		return nil, err
	}
	return Summarize(receipts), nil
}

// GetReceiptImage retrieves the stored image of one of owner's receipts
func (s *Service) GetReceiptImage(ctx context.Context, owner, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImageRef == "" {
		return nil, "", fmt.Errorf("receipt %s has no image: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(ctx, receipt.ImageRef)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, receipt.ContentType, nil
}

// ImageURL returns the public link of a stored image, if the storage has one
func (s *Service) ImageURL(receipt *Receipt) string {
	if receipt.ImageRef == "" {
		return ""
	}
	return s.storage.URL(receipt.ImageRef)
}
