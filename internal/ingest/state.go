package ingest

import "fmt"

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// active reports whether the supervisor is working towards a running transcoder.
func (s State) active() bool {
	return s == StateStarting || s == StateRunning || s == StateDegraded
}
