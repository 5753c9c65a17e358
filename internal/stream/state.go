package stream

// State is a channel's lifecycle state as persisted in the metadata hash.
// It progresses forward; stopped is terminal until the metadata TTL expires.
type State string

const (
	// StateInitializing: metadata written, no owner fetch loop yet.
	StateInitializing State = "initializing"
	// StateConnecting: the owner is dialing upstream (first attempt, a
	// retry, or a reconnect after a URL switch).
	StateConnecting State = "connecting"
	// StateWaitingForClients: upstream responded; bytes not flowing yet.
	StateWaitingForClients State = "waiting_for_clients"
	// StateActive: payload bytes are being appended to the buffer.
	StateActive State = "active"
	// StateSwitching: a URL switch was accepted; the owner is reconnecting
	// while clients stay attached to the buffer.
	StateSwitching State = "switching"
	// StateError: the owner exhausted its retries.
	StateError State = "error"
	// StateStopped: the channel was shut down.
	StateStopped State = "stopped"
)

// Servable reports whether a client handler may start its read loop.
func (s State) Servable() bool {
	return s == StateWaitingForClients || s == StateActive
}

// Pending reports whether a follower should keep waiting for the owner.
func (s State) Pending() bool {
	return s == StateInitializing || s == StateConnecting || s == StateSwitching
}
