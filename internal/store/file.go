package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps all records in one JSON object keyed by filename.
// A missing or empty file is an empty store.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	// mu serializes every read-modify-write of the whole file.
	mu sync.Mutex
}

// NewFileStore creates a store backed by the JSON file at path. The file is created on first write.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "file_store")),
		now:    time.Now,
	}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the record for filename.
func (s *FileStore) Get(ctx context.Context, filename string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, &StoreError{Op: "get", Filename: filename, Err: err}
	}

	rec, ok := records[filename]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Filename = filename
	return rec, nil
}

// List returns all records sorted by filename.
func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	out := make([]Record, 0, len(records))
	for name, rec := range records {
		rec.Filename = name
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Put overwrites the record for filename.
func (s *FileStore) Put(ctx context.Context, filename, runID string, mode Mode, chunks []string) (Record, error) {
	if err := validateKey(filename, runID); err != nil {
		return Record{}, &StoreError{Op: "put", Filename: filename, Err: err}
	}

	return s.update("put", filename, func(*Record) (Record, error) {
		return applyPut(filename, runID, mode, chunks, s.now()), nil
	})
}

// AppendChunk adds one chunk to the record of the given run.
func (s *FileStore) AppendChunk(ctx context.Context, filename, runID string, index int, text string) (Record, error) {
	if err := validateKey(filename, runID); err != nil {
		return Record{}, &StoreError{Op: "append", Filename: filename, Err: err}
	}

	return s.update("append", filename, func(existing *Record) (Record, error) {
		return applyAppend(existing, filename, runID, index, text, s.now())
	})
}

func (s *FileStore) update(op, filename string, apply func(existing *Record) (Record, error)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, &StoreError{Op: op, Filename: filename, Err: err}
	}

	var existing *Record
	if rec, ok := records[filename]; ok {
		existing = &rec
	}

	rec, err := apply(existing)
	if err != nil {
		return Record{}, &StoreError{Op: op, Filename: filename, Err: err}
	}
	records[filename] = rec

	if err := s.save(records); err != nil {
		return Record{}, &StoreError{Op: op, Filename: filename, Err: err}
	}

	s.logger.Debug("Transcript record written",
		slog.String("op", op),
		slog.String("filename", filename),
		slog.String("run_id", rec.RunID),
		slog.Int("chunks", len(rec.Chunks)),
	)

	return rec, nil
}

func (s *FileStore) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	records := make(map[string]Record)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return records, nil
}

// save writes records to a temporary file and renames it over the store so readers
// never observe a partially written file.
func (s *FileStore) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
