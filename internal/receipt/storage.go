package receipt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBucket is the canonical location for receipt images
const DefaultBucket = "receipt-images"

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save stores data under key and returns the key it was stored as
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves the data stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the data stored under key
	Delete(ctx context.Context, key string) error

	// URL returns a link to the stored object, or "" when it is not publicly reachable
	URL(key string) string
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates the base directory if needed. publicURL may be
// empty when the directory is not served by anything else.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// path resolves key inside basePath, refusing anything that would escape it
func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Save writes data to basePath/key, creating owner directories as needed
func (l *LocalStorage) Save(_ context.Context, key string, data []byte, _ string) (string, error) {
	path, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get reads basePath/key
func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading file: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes basePath/key
func (l *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

func (l *LocalStorage) URL(key string) string {
	if l.publicURL == "" {
		return ""
	}
	return l.publicURL + "/" + escapeKey(key)
}

// escapeKey escapes each path segment of key for use in a URL
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
