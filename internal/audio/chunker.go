package audio

import (
	"fmt"
	"math"
)

// DefaultChunkLength is the window length in seconds used when none is configured.
const DefaultChunkLength = 60.0

// MinWindowLength is the shortest window, in seconds, worth sending to the transcription
// service. The service rejects shorter clips as invalid input.
const MinWindowLength = 0.1

// Window is a time range of the decoded audio, in seconds, sent as one transcription request.
type Window struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns the window length in seconds.
func (w Window) Length() float64 {
	return w.End - w.Start
}

// Negligible reports whether the window is too short to carry recognizable speech.
func (w Window) Negligible() bool {
	return w.Length() < MinWindowLength
}

func (w Window) String() string {
	return fmt.Sprintf("chunk %d [%.3fs-%.3fs]", w.Index, w.Start, w.End)
}

// Plan splits duration seconds of audio into contiguous windows of chunkLength seconds.
//
// Audio no longer than one chunk is transcribed in a single request, so Plan returns
// no windows. Otherwise it returns ceil(duration/chunkLength) windows; every window
// but the last is exactly chunkLength long and the last one ends at duration.
func Plan(duration, chunkLength float64) []Window {
	if chunkLength <= 0 || math.IsNaN(chunkLength) || math.IsInf(chunkLength, 0) {
		return nil
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= chunkLength {
		return nil
	}

	n := int(math.Ceil(duration / chunkLength))
	windows := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * chunkLength
		end := math.Min(float64(i+1)*chunkLength, duration)
		if start >= end {
			break
		}
		windows = append(windows, Window{Index: i, Start: start, End: end})
	}

	// Pin the final boundary to the measured duration.
	windows[len(windows)-1].End = duration

	return windows
}
