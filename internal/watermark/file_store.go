package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileStore persists the watermark as JSON on disk. A missing file means no
// watermark. Conditional writes are serialized within the process only.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore returns a JSON-backed watermark store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Get reads the watermark. A corrupt file is reported as absent with a warning.
func (s *FileStore) Get(ctx context.Context) (Watermark, bool, error) {
	if err := ctx.Err(); err != nil {
		return Watermark{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Put writes the watermark, replacing any existing one.
func (s *FileStore) Put(ctx context.Context, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(New(ts))
}

// Create writes the watermark only if none exists.
func (s *FileStore) Create(ctx context.Context, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.load()
	if err != nil {
		return err
	}
	if ok {
		return ErrConflict
	}
	return s.save(New(ts))
}

// Delete removes the watermark file if present.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove()
}

// DeleteIf removes the watermark only if it still holds expected.Value.
func (s *FileStore) DeleteIf(ctx context.Context, expected Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.load()
	if err != nil {
		return err
	}
	if !ok || current.Value != expected.Value {
		return ErrConflict
	}
	return s.remove()
}

func (s *FileStore) load() (Watermark, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Watermark{}, false, nil
		}
		return Watermark{}, false, err
	}

	var w Watermark
	if err := json.Unmarshal(data, &w); err != nil || w.Key != Key {
		s.logger.Warn().Str("path", s.path).AnErr("error", err).Msg("watermark file corrupt, ignoring")
		return Watermark{}, false, nil
	}
	return w, true, nil
}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// save writes the watermark atomically.
func (s *FileStore) save(w Watermark) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".watermark-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	if err := encoder.Encode(w); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
