package staging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	storage "github.com/supabase-community/storage-go"
)

// Stager uploads a payload under key and returns the bytes read back from the store.
type Stager interface {
	Stage(ctx context.Context, key string, data []byte) ([]byte, error)
	Remove(ctx context.Context, keys []string) error
}

// ChunkKey returns the object key for chunk index of a run.
func ChunkKey(runID string, index int) string {
	return fmt.Sprintf("%s/chunk_%03d.wav", runID, index)
}

// SupabaseConfig contains Supabase Storage settings
type SupabaseConfig struct {
	URL    string // project URL; /storage/v1 is appended when missing
	Key    string
	Bucket string
}

// SupabaseStager stages chunks in a Supabase Storage bucket.
type SupabaseStager struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewSupabaseStager creates a stager for the configured bucket.
func NewSupabaseStager(config SupabaseConfig, logger *slog.Logger) (*SupabaseStager, error) {
	if config.URL == "" || config.Key == "" {
		return nil, fmt.Errorf("storage url and key are required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("storage bucket cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	url := strings.TrimRight(config.URL, "/")
	if !strings.HasSuffix(url, "/storage/v1") {
		url += "/storage/v1"
	}

	return &SupabaseStager{
		client: storage.NewClient(url, config.Key, map[string]string{"apikey": config.Key}),
		bucket: config.Bucket,
		logger: logger.With(slog.String("component", "staging")),
	}, nil
}

// Stage uploads data and downloads it again, so the transcription call uses exactly what the store holds.
// The storage client has no context support; ctx is checked between the two transfers.
func (s *SupabaseStager) Stage(ctx context.Context, key string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentType := "audio/wav"
	upsert := true
	if _, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return nil, fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staged, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s from bucket %s: %w", key, s.bucket, err)
	}
	if len(staged) == 0 {
		return nil, fmt.Errorf("staged object %s is empty", key)
	}

	s.logger.Debug("Chunk staged",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(staged)),
	)

	return staged, nil
}

// Remove deletes staged objects. Removing nothing is a no-op.
func (s *SupabaseStager) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.client.RemoveFile(s.bucket, keys); err != nil {
		return fmt.Errorf("failed to remove %d staged objects: %w", len(keys), err)
	}
	return nil
}
