package session

// State is the connection state of a session.
type State int

// Connection states. The zero value is StateDisconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
