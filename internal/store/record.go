package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no record exists for a filename.
var ErrNotFound = errors.New("transcript not found")

// Mode records how a transcript was produced.
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeChunked Mode = "chunked"
)

// Record is the stored transcript of one source file.
type Record struct {
	Filename  string    `json:"filename"`
	RunID     string    `json:"run_id"`
	Mode      Mode      `json:"mode"`
	Chunks    []string  `json:"chunks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text renders the transcript: chunk texts joined by newlines in index order.
func (r Record) Text() string {
	return strings.Join(r.Chunks, "\n")
}

// UnmarshalJSON also accepts a bare string, which older files used for single-shot transcripts.
func (r *Record) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*r = Record{Mode: ModeSingle, Chunks: []string{text}}
		return nil
	}

	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	return nil
}

// Store reads and writes transcript records.
type Store interface {
	// Get returns the record for filename or ErrNotFound.
	Get(ctx context.Context, filename string) (Record, error)
	// List returns all records.
	List(ctx context.Context) ([]Record, error)
	// Put replaces the record for filename with chunks.
	Put(ctx context.Context, filename, runID string, mode Mode, chunks []string) (Record, error)
	// AppendChunk adds the chunk at index to the record of run runID. The first append of a
	// run discards chunks from earlier runs; index must equal the number of chunks already stored.
	AppendChunk(ctx context.Context, filename, runID string, index int, text string) (Record, error)
}

// StoreError reports a failed store operation.
type StoreError struct {
	Op       string
	Filename string
	Err      error
}

func (e *StoreError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Filename, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func applyPut(filename, runID string, mode Mode, chunks []string, now time.Time) Record {
	return Record{
		Filename:  filename,
		RunID:     runID,
		Mode:      mode,
		Chunks:    append([]string(nil), chunks...),
		UpdatedAt: now,
	}
}

// applyAppend computes the record after appending a chunk to existing (nil when absent).
func applyAppend(existing *Record, filename, runID string, index int, text string, now time.Time) (Record, error) {
	rec := Record{Filename: filename, RunID: runID, Mode: ModeChunked}
	if existing != nil && existing.RunID == runID {
		rec.Chunks = append([]string(nil), existing.Chunks...)
	}

	if index != len(rec.Chunks) {
		return Record{}, fmt.Errorf("chunk %d out of order: run %s has %d chunks stored", index, runID, len(rec.Chunks))
	}

	rec.Chunks = append(rec.Chunks, text)
	rec.UpdatedAt = now
	return rec, nil
}

func validateKey(filename, runID string) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}
	if runID == "" {
		return errors.New("run id cannot be empty")
	}
	return nil
}
