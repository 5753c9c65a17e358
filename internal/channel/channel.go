package channel

import (
	"sync"
	"time"

	"github.com/luminetv/tsproxy/internal/buffer"
	"github.com/luminetv/tsproxy/internal/clients"
	"github.com/luminetv/tsproxy/internal/events"
	"github.com/luminetv/tsproxy/internal/stream"
)

// Channel is the local runtime of one channel on this worker: the shared
// chunk buffer, the client registry, and, when this worker holds the
// ownership lock, the stream manager and its heartbeat.
type Channel struct {
	ID       string
	Buffer   *buffer.ChunkBuffer
	Registry *clients.Registry

	mu            sync.Mutex
	manager       *stream.Manager
	owned         bool
	sub           events.Subscription
	heartbeatStop chan struct{}
	shutdownTimer *time.Timer
}

// Manager returns the stream manager, or nil on a follower.
func (c *Channel) Manager() *stream.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager
}

// Owned reports whether this worker currently holds the channel's lock.
func (c *Channel) Owned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned
}

// Healthy reports the owner's upstream health; a follower answers false and
// lets the caller consult the store instead.
func (c *Channel) Healthy() bool {
	m := c.Manager()
	return m != nil && m.Healthy()
}

// cancelShutdown stops a pending grace-period shutdown, if any. Called when
// a new client arrives.
func (c *Channel) cancelShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdownTimer != nil {
		c.shutdownTimer.Stop()
		c.shutdownTimer = nil
	}
}
