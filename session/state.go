package session

// State is the lifecycle state of a session.
type State int

// Session states. Closed is terminal.
const (
	StateUninitialized State = iota
	StateLaunched
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunched:
		return "launched"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
