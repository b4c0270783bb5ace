package app

import (
	"fmt"
	"log/slog"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/media"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/metrics"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/pipeline"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/staging"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/store"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/transcription"
)

// Components are the constructed collaborators of a transcription service.
type Components struct {
	Metrics  *metrics.Metrics
	Client   *transcription.Client
	Store    store.Store
	Stager   staging.Stager
	Pipeline *pipeline.Pipeline
}

// Build constructs every component from cfg. m may be nil.
func Build(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Components, error) {
	if m == nil {
		m = metrics.NewMetrics()
	}

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:       cfg.Transcription.BaseURL,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		OnRetry: func(attempt int, err error) {
			m.RecordTranscriptionRetry()
			logger.Warn("Retrying transcription request",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	transcripts, err := NewStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	// Left as a nil interface when disabled
	var stager staging.Stager
	if cfg.Staging.Enabled {
		s, err := staging.NewSupabaseStager(staging.SupabaseConfig{
			URL:    cfg.Staging.URL,
			Key:    cfg.Staging.Key,
			Bucket: cfg.Staging.Bucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunk stager: %w", err)
		}
		stager = s
	}

	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{
		Path:       cfg.Audio.FFmpegPath,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}, logger)

	p, err := pipeline.New(pipeline.Config{
		ChunkLength: cfg.Audio.ChunkLength,
		TempDir:     cfg.Audio.TempDir,
		StaleAfter:  cfg.Audio.GetStaleAfterDuration(),
	}, pipeline.Deps{
		Transcoder:  ffmpeg,
		Analyzer:    media.WAVAnalyzer{},
		Transcriber: client,
		Store:       transcripts,
		Stager:      stager,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &Components{
		Metrics:  m,
		Client:   client,
		Store:    transcripts,
		Stager:   stager,
		Pipeline: p,
	}, nil
}

// NewStore opens the configured transcript store backend.
func NewStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "file", "":
		s, err := store.NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript file: %w", err)
		}
		return s, nil
	case "postgrest":
		s, err := store.NewPostgrestStore(store.PostgrestConfig{
			URL:   cfg.PostgrestURL,
			Key:   cfg.PostgrestKey,
			Table: cfg.Table,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgrest store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
