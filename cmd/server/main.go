package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/app"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/media"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mp3-transcription-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file with secrets")
	flag.Parse()

	// Secrets first so the config loader can pick them up
	envLoaded, envErr := config.LoadDotEnv(*envPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := app.NewLogger(cfg.Logging)
	defer closeLog()

	if envErr != nil {
		logger.Warn("Failed to load env file", slog.String("path", *envPath), slog.String("error", envErr.Error()))
	} else if !envLoaded {
		logger.Warn("No env file found, using environment variables", slog.String("path", *envPath))
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Int("max_upload_mb", cfg.Server.MaxUploadMB),
		slog.Bool("auth_enabled", cfg.Server.AccessToken != ""),
		slog.String("ffmpeg_path", cfg.Audio.FFmpegPath),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_length", cfg.Audio.ChunkLength),
		slog.String("transcription_base_url", cfg.Transcription.BaseURL),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("staging_enabled", cfg.Staging.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	components, err := app.Build(cfg, logger, nil)
	if err != nil {
		logger.Error("Failed to initialize components", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.String("store_backend", cfg.Store.Backend),
		slog.Int("max_concurrent_requests", cfg.Transcription.MaxConcurrent),
	)

	// Workspaces left behind by a previous process
	if removed, err := media.SweepStale(cfg.Audio.TempDir, cfg.Audio.GetStaleAfterDuration()); err != nil {
		logger.Warn("Stale workspace sweep incomplete", slog.String("error", err.Error()))
	} else if len(removed) > 0 {
		logger.Info("Removed stale workspaces", slog.Int("count", len(removed)))
	}

	httpServer := server.NewHTTPServer(cfg, logger, components.Pipeline, components.Store, components.Client, components.Metrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// In-flight runs are cancelled once the shutdown deadline passes
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := components.Pipeline.GetStats()
	clientStats := components.Client.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("runs_started", stats.RunsStarted),
		slog.Uint64("runs_completed", stats.RunsCompleted),
		slog.Uint64("runs_failed", stats.RunsFailed),
		slog.Uint64("chunks_processed", stats.ChunksProcessed),
		slog.Uint64("transcription_requests", clientStats.TotalRequests),
		slog.Uint64("transcription_retries", clientStats.TotalRetries),
	)

	logger.Info("Service stopped")
}
