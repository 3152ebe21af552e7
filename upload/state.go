package upload

import "fmt"

// SessionState is the lifecycle state of a multipart upload.
type SessionState int

const (
	StateNotStarted SessionState = iota
	StateMultipartActive
	StateFinalizing
	StateCompleted
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateMultipartActive:
		return "multipart_active"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var allowedTransitions = map[SessionState][]SessionState{
	StateNotStarted:      {StateMultipartActive},
	StateMultipartActive: {StateFinalizing, StateAborted},
	StateFinalizing:      {StateCompleted, StateAborted},
}

func (s SessionState) transition(to SessionState) (SessionState, error) {
	for _, allowed := range allowedTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}
