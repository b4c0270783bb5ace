package transcription

import "fmt"

// ServiceError reports a failed transcription request. Transient errors
// (rate limiting, server errors, network failures) are worth retrying.
type ServiceError struct {
	StatusCode int
	Message    string
	Transient  bool
	Attempts   int
	Err        error
}

func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}

	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription service error (%s, HTTP %d, %d attempts): %s", kind, e.StatusCode, e.Attempts, msg)
	}
	return fmt.Sprintf("transcription service error (%s, %d attempts): %s", kind, e.Attempts, msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
