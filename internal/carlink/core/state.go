package core

// SessionState is the orchestrator's device lifecycle state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateSearching
	StateStarting
	StatePlugged
	StateUnplugged
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateStarting:
		return "starting"
	case StatePlugged:
		return "plugged"
	case StateUnplugged:
		return "unplugged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Live reports whether worker messages may still be dispatched in s.
func (s SessionState) Live() bool {
	return s == StateStarting || s == StatePlugged
}
