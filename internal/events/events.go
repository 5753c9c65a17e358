package events

import (
	"context"
	"time"
)

// Event kinds carried on a channel's topic.
const (
	// KindStreamSwitch asks the owner to reconnect upstream with a new URL.
	KindStreamSwitch = "stream_switch"
	// KindStopChannel asks the owner to tear the channel down.
	KindStopChannel = "stop_channel"
	// KindOwnerHeartbeat is an audit record of ownership renewals.
	KindOwnerHeartbeat = "owner_heartbeat"
	// KindClientCountChanged announces local client count transitions,
	// including the ack after an executed switch.
	KindClientCountChanged = "client_count_changed"
)

// Event is the pub/sub message exchanged between workers about one channel.
type Event struct {
	Kind      string `json:"kind"`
	Channel   string `json:"channel"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// Requester is the worker ID that published the event.
	Requester   string `json:"requester"`
	ClientCount int64  `json:"client_count,omitempty"`
	Timestamp   int64  `json:"ts"`
}

// NewEvent stamps an event with the requester and current time.
func NewEvent(kind, channel, requester string) Event {
	return Event{
		Kind:      kind,
		Channel:   channel,
		Requester: requester,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Handler receives events for one channel. Handlers must not block; slow
// work belongs on the subscriber's own goroutine.
type Handler func(Event)

// Subscription is a live per-channel subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the cross-worker control plane. Exactly one subscriber loop runs
// per locally known channel; publishes are fire-and-forget.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(channel string, handler Handler) (Subscription, error)
	Close() error
}
