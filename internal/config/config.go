package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Store         StoreConfig         `yaml:"store"`
	Staging       StagingConfig       `yaml:"staging"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
	AccessToken  string `yaml:"access_token"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// AudioConfig contains decoding and chunking parameters
type AudioConfig struct {
	FFmpegPath  string  `yaml:"ffmpeg_path"`
	SampleRate  int     `yaml:"sample_rate"`
	Channels    int     `yaml:"channels"`
	ChunkLength float64 `yaml:"chunk_length"` // seconds
	TempDir     string  `yaml:"temp_dir"`
	StaleAfter  int     `yaml:"stale_after"` // seconds
}

// TranscriptionConfig contains speech-to-text API configuration
type TranscriptionConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StoreConfig selects and configures the transcript store backend
type StoreConfig struct {
	Backend      string `yaml:"backend"` // "file" or "postgrest"
	Path         string `yaml:"path"`
	PostgrestURL string `yaml:"postgrest_url"`
	PostgrestKey string `yaml:"postgrest_key"`
	Table        string `yaml:"table"`
}

// StagingConfig configures the optional remote object store used to stage chunks
type StagingConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that is valid apart from the API key.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Address:      "0.0.0.0",
			MaxUploadMB:  200,
			ReadTimeout:  60,
			WriteTimeout: 1800,
		},
		Audio: AudioConfig{
			FFmpegPath:  "ffmpeg",
			SampleRate:  16000,
			Channels:    1,
			ChunkLength: 60,
			StaleAfter:  3600,
		},
		Transcription: TranscriptionConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "whisper-1",
			Timeout:       120,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "transcriptions.json",
			Table:   "transcripts",
		},
		Staging: StagingConfig{
			Bucket: "audio-chunks",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Values missing from the
// file keep their defaults; secrets from the environment are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// It reports false when none of the files exist; that is not an error.
func LoadDotEnv(files ...string) (bool, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to stat env file %s: %w", f, err)
		}
	}
	if len(existing) == 0 {
		return false, nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return false, fmt.Errorf("failed to load env files: %w", err)
	}
	return true, nil
}

// ApplyEnv overrides secrets and endpoints with environment variables when set.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	override(&c.Transcription.APIKey, "OPENAI_API_KEY")
	override(&c.Transcription.BaseURL, "OPENAI_BASE_URL")
	override(&c.Server.AccessToken, "TRANSCRIBE_ACCESS_TOKEN")
	override(&c.Store.PostgrestURL, "SUPABASE_URL")
	override(&c.Store.PostgrestKey, "SUPABASE_SERVICE_KEY")
	override(&c.Staging.URL, "SUPABASE_URL")
	override(&c.Staging.Key, "SUPABASE_SERVICE_KEY")
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Staging.Validate(); err != nil {
		return fmt.Errorf("staging config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB)
	}

	if s.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", s.ReadTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.ChunkLength <= 0 {
		return fmt.Errorf("chunk_length must be positive, got %f", a.ChunkLength)
	}

	if a.StaleAfter < 0 {
		return fmt.Errorf("stale_after cannot be negative, got %d", a.StaleAfter)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates transcript store configuration
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "file":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the file backend")
		}
	case "postgrest":
		if s.PostgrestURL == "" {
			return fmt.Errorf("postgrest_url cannot be empty for the postgrest backend")
		}
		if s.PostgrestKey == "" {
			return fmt.Errorf("postgrest_key cannot be empty for the postgrest backend")
		}
		if s.Table == "" {
			return fmt.Errorf("table cannot be empty for the postgrest backend")
		}
	default:
		return fmt.Errorf("backend must be 'file' or 'postgrest', got '%s'", s.Backend)
	}

	return nil
}

// Validate validates staging configuration
func (s *StagingConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.URL == "" {
		return fmt.Errorf("url cannot be empty when staging is enabled")
	}

	if s.Key == "" {
		return fmt.Errorf("key cannot be empty when staging is enabled")
	}

	if s.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty when staging is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path.
	return nil
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (s *ServerConfig) GetMaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// GetStaleAfterDuration returns the workspace sweep age as a time.Duration
func (a *AudioConfig) GetStaleAfterDuration() time.Duration {
	return time.Duration(a.StaleAfter) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
