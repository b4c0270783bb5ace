package pipeline

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run for the same filename is already active.
var ErrRunInProgress = errors.New("a transcription run for this file is already in progress")

// RunError reports a failed run. Err is the underlying transcoder, service, store or
// context error and can be inspected with errors.As and errors.Is.
type RunError struct {
	RunID     string
	Filename  string
	State     State // state the run was in when it failed
	Chunk     int   // failing chunk index, -1 outside the chunk loop
	Persisted int   // chunks stored by this run before the failure
	Err       error
}

func (e *RunError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("transcription of %s failed at chunk %d (%s, %d chunks stored): %v",
			e.Filename, e.Chunk, e.State, e.Persisted, e.Err)
	}
	return fmt.Sprintf("transcription of %s failed (%s): %v", e.Filename, e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
