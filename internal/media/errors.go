package media

import "fmt"

// TranscodeError reports a failed decode, extraction or analysis step.
// Diagnostic holds the transcoder's stderr output when there is any.
type TranscodeError struct {
	Op         string
	Path       string
	Diagnostic string
	Err        error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}
