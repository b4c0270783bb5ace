package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildDefaultConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.APIKey = "test-key"
	cfg.Store.Path = filepath.Join(t.TempDir(), "transcriptions.json")

	c, err := Build(cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if c.Pipeline == nil || c.Client == nil || c.Metrics == nil {
		t.Fatalf("Expected all components, got %+v", c)
	}
	if _, ok := c.Store.(*store.FileStore); !ok {
		t.Errorf("Expected file store, got %T", c.Store)
	}
	if c.Stager != nil {
		t.Errorf("Staging should be disabled by default")
	}
}

func TestBuildWithStaging(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.APIKey = "test-key"
	cfg.Store.Path = filepath.Join(t.TempDir(), "transcriptions.json")
	cfg.Staging.Enabled = true
	cfg.Staging.URL = "https://project.supabase.co"
	cfg.Staging.Key = "service-key"

	c, err := Build(cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Stager == nil {
		t.Errorf("Expected a stager when staging is enabled")
	}
}

func TestBuildRequiresAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "transcriptions.json")

	if _, err := Build(cfg, testLogger(), nil); err == nil {
		t.Errorf("Expected error without API key")
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		config      config.StoreConfig
		expectError bool
	}{
		{"file backend", config.StoreConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "t.json")}, false},
		{"postgrest backend", config.StoreConfig{Backend: "postgrest", PostgrestURL: "https://project.supabase.co", PostgrestKey: "k", Table: "transcripts"}, false},
		{"postgrest without key", config.StoreConfig{Backend: "postgrest", PostgrestURL: "https://project.supabase.co"}, true},
		{"unknown backend", config.StoreConfig{Backend: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.config, testLogger())
			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, closeLog := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path})

	logger.Info("Service starting", slog.String("service", "test"))
	if err := closeLog(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("Expected a JSON log line, got %q", data)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger, _ := NewLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Errorf("Info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Errorf("Warn should be enabled at warn level")
	}
}
