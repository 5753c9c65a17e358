package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/luminetv/tsproxy/internal/logger"
)

const (
	// subjectPrefix namespaces every channel topic on the bus.
	subjectPrefix = "events."

	// reconnectWait and maxReconnects keep a flaky bus from killing the
	// worker; streaming continues from local state while NATS reconnects.
	reconnectWait = 2 * time.Second
	maxReconnects = -1
)

// NatsBus implements Bus on a core NATS connection. One subject per channel
// (`events.{channel}`), JSON payloads, no persistence: a worker that was
// offline for an event re-reads metadata from the coordination store instead
// of replaying history.
type NatsBus struct {
	nc     *nats.Conn
	logger *logger.Logger
}

// Connect dials NATS with reconnect handling and returns the bus.
func Connect(url string, log *logger.Logger) (*NatsBus, error) {
	busLog := log.WithComponent("events")

	nc, err := nats.Connect(url,
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				busLog.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busLog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NatsBus{nc: nc, logger: busLog}, nil
}

func subject(channel string) string {
	return subjectPrefix + channel
}

// Publish sends the event to every worker subscribed to the channel,
// including this one.
func (b *NatsBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.nc.Publish(subject(ev.Channel), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
	}

	b.logger.Debug("published event",
		slog.String("kind", ev.Kind),
		slog.String("channel", ev.Channel))
	return nil
}

// Subscribe registers a handler for one channel's topic. Malformed payloads
// are logged and dropped; they are never fatal to the subscriber.
func (b *NatsBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject(channel), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("received invalid event",
				slog.String("channel", channel),
				slog.String("error", err.Error()))
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject(channel), err)
	}

	return sub, nil
}

// Close drains in-flight messages and closes the connection.
func (b *NatsBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
