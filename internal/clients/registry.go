package clients

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/logger"
)

// ttlFactor sizes the per-client hash TTL relative to the keepalive
// interval: a client that missed this many refreshes is considered gone
// fleet-wide even if its worker never removed it.
const ttlFactor = 3

// NewClientID generates a locally unique client identifier.
func NewClientID() string {
	return fmt.Sprintf("client_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

// ClientState tracks one connected HTTP client.
type ClientState struct {
	ID           string
	UserAgent    string
	Cursor       int64
	ConnectedAt  time.Time
	LastActivity time.Time

	// lastRefresh is when the store TTL was last pushed out; refreshes are
	// rate-limited so Touch on every flush does not hammer the store.
	lastRefresh time.Time
}

// Registry is the per-channel set of connected clients: a local map owned by
// the handlers on this worker plus the fleet-wide membership in the store
// (set clients:{channel} and per-client hash with TTL).
type Registry struct {
	channelID         string
	store             coordinator.Store
	keepaliveInterval time.Duration
	logger            *logger.Logger

	mu    sync.Mutex
	local map[string]*ClientState
}

// NewRegistry creates a registry for one channel.
func NewRegistry(channelID string, store coordinator.Store, keepaliveInterval time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		channelID:         channelID,
		store:             store,
		keepaliveInterval: keepaliveInterval,
		logger:            log.WithComponent("clients").WithChannel(channelID),
		local:             make(map[string]*ClientState),
	}
}

// Add registers a client locally and in the store. Returns the local count
// after insertion. Store failures are logged; the client streams regardless.
func (r *Registry) Add(ctx context.Context, clientID, userAgent string) int {
	now := time.Now()

	r.mu.Lock()
	r.local[clientID] = &ClientState{
		ID:           clientID,
		UserAgent:    userAgent,
		ConnectedAt:  now,
		LastActivity: now,
		lastRefresh:  now,
	}
	count := len(r.local)
	r.mu.Unlock()

	if err := r.store.SetAdd(ctx, coordinator.ClientSetKey(r.channelID), clientID); err != nil {
		r.logger.Warn("failed to add client to store set", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}
	err := r.store.HashSet(ctx, coordinator.ClientKey(r.channelID, clientID), map[string]string{
		"user_agent":       userAgent,
		"connected_at":     strconv.FormatInt(now.UnixMilli(), 10),
		"last_activity_at": strconv.FormatInt(now.UnixMilli(), 10),
	}, ttlFactor*r.keepaliveInterval)
	if err != nil {
		r.logger.Warn("failed to write client hash", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}

	r.logger.Info("client connected",
		slog.String("client_id", clientID),
		slog.Int("local_count", count))
	return count
}

// Touch records activity for a client and, at most once per keepalive
// interval, refreshes its TTL in the store.
func (r *Registry) Touch(ctx context.Context, clientID string) {
	now := time.Now()

	r.mu.Lock()
	state, ok := r.local[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	state.LastActivity = now
	refresh := now.Sub(state.lastRefresh) >= r.keepaliveInterval
	if refresh {
		state.lastRefresh = now
	}
	r.mu.Unlock()

	if !refresh {
		return
	}
	err := r.store.HashSet(ctx, coordinator.ClientKey(r.channelID, clientID), map[string]string{
		"last_activity_at": strconv.FormatInt(now.UnixMilli(), 10),
	}, ttlFactor*r.keepaliveInterval)
	if err != nil {
		r.logger.Debug("client keepalive refresh failed", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}
}

// SetCursor records the client's read position, for status reporting only.
func (r *Registry) SetCursor(clientID string, cursor int64) {
	r.mu.Lock()
	if state, ok := r.local[clientID]; ok && cursor > state.Cursor {
		state.Cursor = cursor
	}
	r.mu.Unlock()
}

// Remove deletes a client locally and from the store. Returns the local
// count after removal.
func (r *Registry) Remove(ctx context.Context, clientID string) int {
	r.mu.Lock()
	delete(r.local, clientID)
	count := len(r.local)
	r.mu.Unlock()

	if err := r.store.SetRemove(ctx, coordinator.ClientSetKey(r.channelID), clientID); err != nil {
		r.logger.Warn("failed to remove client from store set", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}
	if err := r.store.Delete(ctx, coordinator.ClientKey(r.channelID, clientID)); err != nil {
		r.logger.Debug("failed to delete client hash", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}

	r.logger.Info("client disconnected",
		slog.String("client_id", clientID),
		slog.Int("local_count", count))
	return count
}

// LocalCount is the number of clients streaming from this worker.
func (r *Registry) LocalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local)
}

// GlobalCount is the fleet-wide client count from the store set. Advisory:
// TTL lag can briefly overcount.
func (r *Registry) GlobalCount(ctx context.Context) (int64, error) {
	return r.store.SetCard(ctx, coordinator.ClientSetKey(r.channelID))
}

// Sweep removes local clients idle past the timeout and returns their IDs.
// The caller announces the count change on the event bus.
func (r *Registry) Sweep(ctx context.Context, inactivityTimeout time.Duration) []string {
	now := time.Now()

	r.mu.Lock()
	var stale []string
	for id, state := range r.local {
		if now.Sub(state.LastActivity) > inactivityTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.logger.Warn("sweeping inactive client", slog.String("client_id", id))
		r.Remove(ctx, id)
	}
	return stale
}

// Snapshot returns a copy of the local client states for status reporting.
func (r *Registry) Snapshot() []ClientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientState, 0, len(r.local))
	for _, state := range r.local {
		out = append(out, *state)
	}
	return out
}
