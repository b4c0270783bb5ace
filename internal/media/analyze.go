package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/audio"
)

// WAVAnalyzer reads sample rate and length from a WAV container without decoding samples.
type WAVAnalyzer struct{}

// Analyze opens the WAV file at path and returns its metadata.
func (WAVAnalyzer) Analyze(path string) (audio.DecodedAudio, error) {
	file, err := os.Open(path)
	if err != nil {
		return audio.DecodedAudio{}, &TranscodeError{Op: "analyze", Path: path, Err: err}
	}
	defer file.Close()

	info, err := AnalyzeWAV(file)
	if err != nil {
		return audio.DecodedAudio{}, &TranscodeError{Op: "analyze", Path: path, Err: err}
	}

	info.Path = path
	return info, nil
}

// AnalyzeWAV reads WAV metadata from r. Frames are derived from the PCM chunk size.
func AnalyzeWAV(r io.ReadSeeker) (audio.DecodedAudio, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		if err := decoder.Err(); err != nil {
			return audio.DecodedAudio{}, fmt.Errorf("invalid WAV file: %w", err)
		}
		return audio.DecodedAudio{}, errors.New("invalid WAV file")
	}

	if err := decoder.FwdToPCM(); err != nil {
		return audio.DecodedAudio{}, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	sampleRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bytesPerSample := int(decoder.BitDepth) / 8

	if sampleRate <= 0 {
		return audio.DecodedAudio{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 || bytesPerSample <= 0 {
		return audio.DecodedAudio{}, fmt.Errorf("invalid sample layout: %d channels, %d bit", channels, decoder.BitDepth)
	}

	frames := decoder.PCMLen() / int64(channels*bytesPerSample)

	return audio.DecodedAudio{
		SampleRate: sampleRate,
		Channels:   channels,
		Frames:     frames,
		Duration:   float64(frames) / float64(sampleRate),
	}, nil
}
