package live

// State identifies where a [Session] is in its lifecycle. Exactly one
// session is live per controller; its state advances monotonically toward
// StateClosed except for the error branch:
//
//	StateIdle → StateConnecting → StateConnected → StateClosing → StateClosed
//	StateConnecting/StateConnected → StateError → StateClosed
//
// Audio may only be sent while in StateConnected; TrySend drops frames in
// every other state.
type State int32

const (
	// StateIdle is the zero value: no connection attempt has been made.
	StateIdle State = iota

	// StateConnecting means the websocket is open and the setup message has
	// been sent, but the service has not yet acknowledged the session.
	StateConnecting

	// StateConnected means the service acknowledged the setup message and
	// the session accepts outbound audio.
	StateConnected

	// StateClosing means Close was called and teardown is in progress.
	StateClosing

	// StateClosed is terminal: the network resource has been released.
	StateClosed

	// StateError means the connection failed to open or dropped
	// unexpectedly. Close moves the session from StateError to StateClosed.
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state admits no further transitions except
// via Close.
func (s State) Terminal() bool {
	return s == StateClosed
}
