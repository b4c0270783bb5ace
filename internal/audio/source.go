package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Source is an uploaded compressed audio file. It is not modified after it is received.
type Source struct {
	Filename string
	Data     []byte
}

// NewSource validates an upload and returns it as a Source.
// Only the base name of filename is kept so it is safe as a store key.
func NewSource(filename string, data []byte) (Source, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Source{}, fmt.Errorf("filename cannot be empty")
	}

	if len(data) == 0 {
		return Source{}, fmt.Errorf("audio file %s is empty", name)
	}

	return Source{Filename: name, Data: data}, nil
}

// Ext returns the lower-cased file extension including the dot.
func (s Source) Ext() string {
	return strings.ToLower(filepath.Ext(s.Filename))
}

// DecodedAudio describes the uncompressed WAV produced from a Source.
type DecodedAudio struct {
	Path       string  `json:"-"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Frames     int64   `json:"frames"`
	Duration   float64 `json:"duration_seconds"`
}
