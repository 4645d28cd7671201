package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/fsstore"
)

// Store owns the persisted document. Every mutation goes through Update,
// which holds the store mutex across the whole read-modify-write span, so
// concurrent operations can never silently drop each other's writes.
type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string { return s.path }

// Load reads the document, creating it from defaults when missing and
// resetting it to defaults when it cannot be decoded in any supported
// encoding. Corruption is recovered, not propagated.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Snapshot re-reads the document from disk and returns a deep copy. Derived
// lookups must be computed against a fresh snapshot per logical operation.
func (s *Store) Snapshot(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Update applies fn to the current document and persists the result
// atomically. When fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	if err := fsstore.WriteJSONAtomic(s.path, doc, fsstore.FileOptions{}); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	return nil
}

func (s *Store) readLocked() (Document, error) {
	doc := Defaults()
	ok, err := fsstore.ReadJSON(s.path, &doc)
	if err != nil {
		if !errors.Is(err, fsstore.ErrDecodeFailed) {
			return Document{}, err
		}
		s.logger.Warn("document_corrupt_reset", "path", s.path, "error", err.Error())
		doc = Defaults()
		ok = false
	}
	doc.Normalize()
	if !ok {
		if err := fsstore.WriteJSONAtomic(s.path, doc, fsstore.FileOptions{}); err != nil {
			return Document{}, fmt.Errorf("seed document: %w", err)
		}
	}
	return doc.Clone(), nil
}
