package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/audio"
)

// maxDiagnostic bounds how much transcoder stderr is kept in an error.
const maxDiagnostic = 4096

// FFmpegConfig contains transcoder settings
type FFmpegConfig struct {
	Path       string
	SampleRate int
	Channels   int
}

// FFmpeg decodes uploads to WAV and cuts WAV segments by invoking the ffmpeg executable.
type FFmpeg struct {
	config FFmpegConfig
	logger *slog.Logger
}

// NewFFmpeg creates a transcoder. Zero values in config fall back to ffmpeg, 16 kHz mono.
func NewFFmpeg(config FFmpegConfig, logger *slog.Logger) *FFmpeg {
	if config.Path == "" {
		config.Path = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpeg{
		config: config,
		logger: logger.With(slog.String("component", "ffmpeg")),
	}
}

// Decode writes src into the workspace and converts it to a PCM WAV file.
// It returns the path of the decoded file.
func (f *FFmpeg) Decode(ctx context.Context, ws *Workspace, src audio.Source) (string, error) {
	ext := src.Ext()
	if ext == "" {
		ext = ".bin"
	}
	input := ws.Path("input" + ext)
	output := ws.Path("full.wav")

	if err := os.WriteFile(input, src.Data, 0o600); err != nil {
		return "", &TranscodeError{Op: "decode", Path: src.Filename, Err: fmt.Errorf("failed to stage upload: %w", err)}
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", input,
		"-ac", strconv.Itoa(f.config.Channels),
		"-ar", strconv.Itoa(f.config.SampleRate),
		"-f", "wav",
		output,
	}

	if err := f.run(ctx, "decode", src.Filename, args); err != nil {
		return "", err
	}

	// The compressed copy is no longer needed once decoded.
	_ = os.Remove(input)

	return output, nil
}

// Extract cuts the window w out of the decoded file at wavPath and returns the segment path.
func (f *FFmpeg) Extract(ctx context.Context, ws *Workspace, wavPath string, w audio.Window) (string, error) {
	output := ws.Path(fmt.Sprintf("chunk_%03d.wav", w.Index))

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", wavPath,
		"-ss", formatSeconds(w.Start),
		"-t", formatSeconds(w.Length()),
		"-c", "copy",
		output,
	}

	if err := f.run(ctx, "extract", w.String(), args); err != nil {
		return "", err
	}

	return output, nil
}

// run executes ffmpeg and converts a failed exit into a TranscodeError carrying stderr.
func (f *FFmpeg) run(ctx context.Context, op, target string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.config.Path, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		f.logger.Warn("ffmpeg failed",
			slog.String("op", op),
			slog.String("target", target),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return &TranscodeError{
			Op:         op,
			Path:       target,
			Diagnostic: diagnostic(stderr.Bytes()),
			Err:        err,
		}
	}

	f.logger.Debug("ffmpeg finished",
		slog.String("op", op),
		slog.String("target", target),
		slog.Duration("elapsed", elapsed),
	)

	return nil
}

// formatSeconds keeps microseconds so a tail of a few frames never collapses to zero length.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}

// diagnostic keeps the tail of stderr, where ffmpeg prints the actual failure.
func diagnostic(stderr []byte) string {
	out := strings.TrimSpace(string(stderr))
	if len(out) > maxDiagnostic {
		out = "..." + out[len(out)-maxDiagnostic:]
	}
	return out
}
