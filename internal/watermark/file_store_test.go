package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFileStore_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "watermark.json")
	store := NewFileStore(path, zerolog.Nop())
	ctx := context.Background()

	if _, ok, err := store.Get(ctx); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	now := time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	if err := store.Put(ctx, now); err != nil {
		t.Fatalf("put watermark: %v", err)
	}

	got, ok, err := store.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("get watermark: ok=%v err=%v", ok, err)
	}
	if got.Key != Key || got.Value != "2024-01-02T03:04:05.678Z" {
		t.Fatalf("unexpected watermark: %+v", got)
	}
	since, err := got.Since()
	if err != nil || !since.Equal(now) {
		t.Fatalf("unexpected timestamp: %v (%v)", since, err)
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("delete watermark: %v", err)
	}
	if _, ok, _ := store.Get(ctx); ok {
		t.Fatalf("expected watermark to be deleted")
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("deleting absent watermark should succeed: %v", err)
	}
}

func TestFileStore_PutIsUpsert(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watermark.json"), zerolog.Nop())
	ctx := context.Background()

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, _, _ := store.Get(ctx)
	if got.Value != New(second).Value {
		t.Fatalf("expected second timestamp, got %s", got.Value)
	}
}

func TestFileStore_ConditionalWrites(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watermark.json"), zerolog.Nop())
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, ts); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, ts.Add(time.Minute)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second create, got %v", err)
	}

	if err := store.DeleteIf(ctx, New(ts.Add(time.Minute))); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale value, got %v", err)
	}
	if _, ok, _ := store.Get(ctx); !ok {
		t.Fatalf("watermark must survive a failed conditional delete")
	}

	if err := store.DeleteIf(ctx, New(ts)); err != nil {
		t.Fatalf("conditional delete: %v", err)
	}
	if err := store.DeleteIf(ctx, New(ts)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when already deleted, got %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	store := NewFileStore(path, zerolog.Nop())

	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, ok, err := store.Get(context.Background()); err != nil || ok {
		t.Fatalf("expected corrupt file to read as absent, got ok=%v err=%v", ok, err)
	}
	if err := store.Create(context.Background(), time.Now()); err != nil {
		t.Fatalf("create over corrupt file: %v", err)
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watermark.json"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
