package bus

import "fmt"

// ConnState is the Gateway's connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDraining
)

// String returns the snake_case name used in logs and health metadata.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StateChange is emitted on every connection state transition. Attempt is
// the reconnect attempt counter, meaningful while connecting; it resets to
// zero after a successful connect.
type StateChange struct {
	State   ConnState
	Attempt int
}
