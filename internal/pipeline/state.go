package pipeline

// State is a step of a transcription run.
type State int

const (
	StateReceived State = iota
	StateDecoded
	StatePlanned
	StateChunking
	StateAssembled
	StatePersisted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoded:
		return "decoded"
	case StatePlanned:
		return "planned"
	case StateChunking:
		return "chunking"
	case StateAssembled:
		return "assembled"
	case StatePersisted:
		return "persisted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
