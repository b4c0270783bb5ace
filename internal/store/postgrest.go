package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
)

// PostgrestConfig contains PostgREST connection settings
type PostgrestConfig struct {
	URL   string // project URL; /rest/v1 is appended when missing
	Key   string
	Table string
}

// PostgrestStore keeps one row per filename in a PostgREST-exposed table with columns
// filename (primary key), run_id, mode, chunks (jsonb) and updated_at.
type PostgrestStore struct {
	client *postgrest.Client
	table  string
	logger *slog.Logger
	locks  *keyLocks
	now    func() time.Time
}

// NewPostgrestStore creates a PostgREST-backed store.
func NewPostgrestStore(config PostgrestConfig, logger *slog.Logger) (*PostgrestStore, error) {
	if config.URL == "" || config.Key == "" {
		return nil, fmt.Errorf("postgrest url and key are required")
	}
	if config.Table == "" {
		config.Table = "transcripts"
	}
	if logger == nil {
		logger = slog.Default()
	}

	url := strings.TrimRight(config.URL, "/")
	if !strings.HasSuffix(url, "/rest/v1") {
		url += "/rest/v1"
	}

	client := postgrest.NewClient(url, "", map[string]string{
		"apikey":        config.Key,
		"Authorization": "Bearer " + config.Key,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("failed to initialize postgrest client: %w", client.ClientError)
	}

	return &PostgrestStore{
		client: client,
		table:  config.Table,
		logger: logger.With(slog.String("component", "postgrest_store")),
		locks:  newKeyLocks(),
		now:    time.Now,
	}, nil
}

// Get returns the record for filename.
func (s *PostgrestStore) Get(ctx context.Context, filename string) (Record, error) {
	rec, ok, err := s.fetch(filename)
	if err != nil {
		return Record{}, &StoreError{Op: "get", Filename: filename, Err: err}
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns all records ordered by filename.
func (s *PostgrestStore) List(ctx context.Context) ([]Record, error) {
	var rows []Record
	_, err := s.client.From(s.table).
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Filename < rows[j].Filename })
	return rows, nil
}

// Put overwrites the row for filename.
func (s *PostgrestStore) Put(ctx context.Context, filename, runID string, mode Mode, chunks []string) (Record, error) {
	if err := validateKey(filename, runID); err != nil {
		return Record{}, &StoreError{Op: "put", Filename: filename, Err: err}
	}

	unlock := s.locks.lock(filename)
	defer unlock()

	rec := applyPut(filename, runID, mode, chunks, s.now())
	if err := s.upsert(rec); err != nil {
		return Record{}, &StoreError{Op: "put", Filename: filename, Err: err}
	}
	return rec, nil
}

// AppendChunk reads the row, appends the chunk and upserts it back.
func (s *PostgrestStore) AppendChunk(ctx context.Context, filename, runID string, index int, text string) (Record, error) {
	if err := validateKey(filename, runID); err != nil {
		return Record{}, &StoreError{Op: "append", Filename: filename, Err: err}
	}

	unlock := s.locks.lock(filename)
	defer unlock()

	existing, ok, err := s.fetch(filename)
	if err != nil {
		return Record{}, &StoreError{Op: "append", Filename: filename, Err: err}
	}

	var prev *Record
	if ok {
		prev = &existing
	}

	rec, err := applyAppend(prev, filename, runID, index, text, s.now())
	if err != nil {
		return Record{}, &StoreError{Op: "append", Filename: filename, Err: err}
	}

	if err := s.upsert(rec); err != nil {
		return Record{}, &StoreError{Op: "append", Filename: filename, Err: err}
	}

	s.logger.Debug("Transcript row written",
		slog.String("filename", filename),
		slog.String("run_id", runID),
		slog.Int("chunks", len(rec.Chunks)),
	)
	return rec, nil
}

func (s *PostgrestStore) fetch(filename string) (Record, bool, error) {
	var rows []Record
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("filename", filename).
		ExecuteTo(&rows)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to select %s: %w", s.table, err)
	}
	if len(rows) == 0 {
		return Record{}, false, nil
	}
	return rows[0], true, nil
}

func (s *PostgrestStore) upsert(rec Record) error {
	_, _, err := s.client.From(s.table).
		Insert(rec, true, "filename", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", s.table, err)
	}
	return nil
}
