package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "transcriptions.json"), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "talk.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty store, got %d records", len(records))
	}

	if err := os.WriteFile(s.Path(), nil, 0o644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}
	if _, err := s.Get(ctx, "talk.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty file, got %v", err)
	}
}

func TestFileStorePutSingle(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "short.mp3", "run-1", ModeSingle, []string{"hello there"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := s.Get(ctx, "short.mp3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Text() != "hello there" {
		t.Errorf("Expected plain text, got %q", rec.Text())
	}
	if rec.Mode != ModeSingle || rec.RunID != "run-1" {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Errorf("Expected UpdatedAt to be set")
	}
}

func TestFileStoreAppendChunks(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for i, text := range []string{"A", "B", "C"} {
		rec, err := s.AppendChunk(ctx, "long.mp3", "run-1", i, text)
		if err != nil {
			t.Fatalf("AppendChunk %d failed: %v", i, err)
		}
		if len(rec.Chunks) != i+1 {
			t.Errorf("Expected %d chunks after append, got %d", i+1, len(rec.Chunks))
		}
	}

	rec, err := s.Get(ctx, "long.mp3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Text() != "A\nB\nC" {
		t.Errorf("Expected newline join, got %q", rec.Text())
	}
	if rec.Mode != ModeChunked {
		t.Errorf("Expected chunked mode, got %s", rec.Mode)
	}
}

func TestFileStoreNewRunReplacesOldChunks(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for i, text := range []string{"old-0", "old-1", "old-2"} {
		if _, err := s.AppendChunk(ctx, "f.mp3", "run-1", i, text); err != nil {
			t.Fatalf("AppendChunk failed: %v", err)
		}
	}

	// A later run that fails after one chunk must not show chunks from run-1.
	if _, err := s.AppendChunk(ctx, "f.mp3", "run-2", 0, "new-0"); err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}

	rec, err := s.Get(ctx, "f.mp3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(rec.Chunks, []string{"new-0"}) || rec.RunID != "run-2" {
		t.Errorf("Expected only run-2 chunks, got %+v", rec)
	}
}

func TestFileStoreRejectsOutOfOrderChunk(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	_, err := s.AppendChunk(ctx, "f.mp3", "run-1", 1, "skipped zero")
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected StoreError, got %v", err)
	}
	if serr.Op != "append" {
		t.Errorf("Expected op append, got %s", serr.Op)
	}

	if _, err := s.Get(ctx, "f.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rejected append must not create a record, got %v", err)
	}
}

func TestFileStoreReplayIsIdempotent(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	chunks := []string{"one", "two", "three"}

	var texts []string
	for _, runID := range []string{"run-a", "run-b"} {
		for i, text := range chunks {
			if _, err := s.AppendChunk(ctx, "replay.mp3", runID, i, text); err != nil {
				t.Fatalf("AppendChunk failed: %v", err)
			}
		}
		rec, err := s.Get(ctx, "replay.mp3")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		texts = append(texts, rec.Text())
	}

	if texts[0] != texts[1] {
		t.Errorf("Replay changed the result: %q vs %q", texts[0], texts[1])
	}
}

func TestFileStoreKeepsOtherFiles(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a.mp3", "r1", ModeSingle, []string{"alpha"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Put(ctx, "b.mp3", "r2", ModeSingle, []string{"beta"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 || records[0].Filename != "a.mp3" || records[1].Filename != "b.mp3" {
		t.Errorf("Unexpected records %+v", records)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("Temp files left behind: %v", leftovers)
	}
}

func TestFileStoreReadsLegacyStringValues(t *testing.T) {
	s := newTestFileStore(t)
	legacy := `{"old.mp3": "plain transcript"}`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatalf("Failed to write legacy file: %v", err)
	}

	rec, err := s.Get(context.Background(), "old.mp3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Text() != "plain transcript" || rec.Mode != ModeSingle {
		t.Errorf("Unexpected legacy record %+v", rec)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	s := newTestFileStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := s.AppendChunk(context.Background(), "x.mp3", "r", 0, "t")
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Errorf("Expected StoreError for corrupt file, got %v", err)
	}
}

func TestFileStoreConcurrentFiles(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for f := 0; f < 4; f++ {
		wg.Add(1)
		go func(f int) {
			defer wg.Done()
			name := fmt.Sprintf("file-%d.mp3", f)
			for i := 0; i < 5; i++ {
				if _, err := s.AppendChunk(ctx, name, "run", i, fmt.Sprintf("%d-%d", f, i)); err != nil {
					t.Errorf("AppendChunk failed: %v", err)
					return
				}
			}
		}(f)
	}
	wg.Wait()

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(records))
	}
	for _, rec := range records {
		if len(rec.Chunks) != 5 {
			t.Errorf("%s: expected 5 chunks, got %d", rec.Filename, len(rec.Chunks))
		}
	}
}

func TestStoreValidatesKeys(t *testing.T) {
	s := newTestFileStore(t)
	if _, err := s.Put(context.Background(), "", "r", ModeSingle, nil); err == nil {
		t.Errorf("Expected error for empty filename")
	}
	if _, err := s.AppendChunk(context.Background(), "f.mp3", "", 0, "x"); err == nil {
		t.Errorf("Expected error for empty run id")
	}
}
