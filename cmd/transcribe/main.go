package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/app"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/audio"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/pipeline"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/server"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/transcription"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"
)

func info(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[info] "+colorReset+msg+"\n", a...)
}

func warn(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[warn] "+colorReset+msg+"\n", a...)
}

func ok(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[ok] "+colorReset+msg+"\n", a...)
}

func fail(msg string, a ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[error] "+colorReset+msg+"\n", a...)
}

func main() {
	var (
		inPath       string
		outPath      string
		language     string
		instructions string
		configPath   string
		chunkLength  float64
		listLangs    bool
	)

	flag.StringVar(&inPath, "input", "", "Input mp3 file path (-i)")
	flag.StringVar(&inPath, "i", "", "Input mp3 file path")
	flag.StringVar(&outPath, "output", server.DownloadFilename, "Output transcript file (-o)")
	flag.StringVar(&outPath, "o", server.DownloadFilename, "Output transcript file")
	flag.StringVar(&language, "lang", transcription.DefaultLanguage, "Spoken language (ISO 639-1 code)")
	flag.StringVar(&instructions, "instructions", "", "Additional transcription instructions")
	flag.StringVar(&configPath, "config", "", "Optional configuration file (defaults are used when empty)")
	flag.Float64Var(&chunkLength, "chunk", 0, "Chunk length in seconds (overrides config)")
	flag.BoolVar(&listLangs, "languages", false, "List supported languages and exit")
	flag.Parse()

	if listLangs {
		for _, l := range transcription.Languages() {
			fmt.Printf("%s\t%s\n", l.Code, l.Name)
		}
		return
	}

	if inPath == "" {
		fail("missing --input/-i mp3 path")
		os.Exit(2)
	}
	if !transcription.IsSupported(language) {
		fail("unsupported language: %s (see -languages)", language)
		os.Exit(2)
	}

	if found, err := config.LoadDotEnv(); err != nil {
		warn("could not load .env: %v", err)
	} else if !found {
		info("no .env file found, using environment variables")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fail("%v", err)
		os.Exit(1)
	}
	if chunkLength > 0 {
		cfg.Audio.ChunkLength = chunkLength
	}
	// Progress goes to stderr; keep structured logs to warnings
	if configPath == "" {
		cfg.Logging = config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}
	}

	logger, closeLog := app.NewLogger(cfg.Logging)
	defer closeLog()

	data, err := os.ReadFile(inPath)
	if err != nil {
		fail("failed to read input: %v", err)
		os.Exit(1)
	}
	src, err := audio.NewSource(inPath, data)
	if err != nil {
		fail("%v", err)
		os.Exit(1)
	}
	if src.Ext() != ".mp3" {
		warn("input %s is not an .mp3 file, ffmpeg will try to decode it anyway", src.Filename)
	}

	components, err := app.Build(cfg, logger, nil)
	if err != nil {
		fail("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info("Transcribing %s (%s, chunks of %.0fs)...", src.Filename, language, cfg.Audio.ChunkLength)
	result, err := components.Pipeline.Run(ctx, pipeline.Request{
		Source:       src,
		Language:     language,
		Instructions: instructions,
	})
	if err != nil {
		var rerr *pipeline.RunError
		if errors.As(err, &rerr) && rerr.Persisted > 0 {
			warn("%d chunks were stored before the failure", rerr.Persisted)
		}
		fail("transcription failed: %v", err)
		os.Exit(1)
	}
	ok("Transcribed %.1fs of audio in %d chunk(s) (%s)", result.Duration, len(result.Chunks), result.Mode)

	if err := os.WriteFile(outPath, []byte(result.Text), 0o644); err != nil {
		fail("failed to write output: %v", err)
		os.Exit(1)
	}
	ok("Transcript written to %s", outPath)
}

// loadConfig reads path, or builds the default configuration when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (is OPENAI_API_KEY set?): %w", err)
	}
	return cfg, nil
}
