package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/luminetv/tsproxy/internal/buffer"
	"github.com/luminetv/tsproxy/internal/catalog"
	"github.com/luminetv/tsproxy/internal/clients"
	"github.com/luminetv/tsproxy/internal/config"
	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/events"
	"github.com/luminetv/tsproxy/internal/logger"
	"github.com/luminetv/tsproxy/internal/metrics"
	"github.com/luminetv/tsproxy/internal/stream"
)

var (
	// ErrChannelNotFound: the channel is neither in the store nor in the
	// catalog. Maps to 404.
	ErrChannelNotFound = errors.New("channel: not found")
	// ErrWaitTimeout: the channel did not become servable within the
	// client wait timeout. Maps to 503.
	ErrWaitTimeout = errors.New("channel: timed out waiting for stream")
	// ErrUpstreamFailed: the owner exhausted its retries. Maps to 502.
	ErrUpstreamFailed = errors.New("channel: upstream failed")
)

// statePollInterval is how often followers re-read metadata while waiting
// for the owner to bring the stream up.
const statePollInterval = 100 * time.Millisecond

// Lifecycle replaces the source's global maps with one explicit object per
// worker: it creates channels on demand, runs the ownership protocol, routes
// control events, and drives the grace shutdown. HTTP handlers receive it
// and never touch package-level state.
type Lifecycle struct {
	cfg      *config.Config
	store    coordinator.Store
	bus      events.Bus
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics
	logger   *logger.Logger
	workerID string

	mu       sync.RWMutex
	channels map[string]*Channel

	cron *cron.Cron
}

// NewLifecycle wires the lifecycle manager. Call Start to launch the
// periodic jobs and Shutdown on worker exit.
func NewLifecycle(cfg *config.Config, store coordinator.Store, bus events.Bus, cat *catalog.Catalog, m *metrics.Metrics, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		catalog:  cat,
		metrics:  m,
		logger:   log.WithComponent("lifecycle"),
		workerID: logger.WorkerID(),
		channels: make(map[string]*Channel),
		cron:     cron.New(),
	}
}

// WorkerID returns this worker's identity as written into owner locks.
func (l *Lifecycle) WorkerID() string {
	return l.workerID
}

// Start launches the client sweeper, the stale-channel reaper and the
// catalog reload on the cron scheduler.
func (l *Lifecycle) Start() error {
	if _, err := l.cron.AddFunc(fmt.Sprintf("@every %s", l.cfg.ClientCleanupInterval), l.sweepClients); err != nil {
		return fmt.Errorf("failed to schedule client sweeper: %w", err)
	}
	if _, err := l.cron.AddFunc(fmt.Sprintf("@every %s", l.cfg.ChannelMetadataTTL/2), l.reapStaleChannels); err != nil {
		return fmt.Errorf("failed to schedule channel reaper: %w", err)
	}
	if _, err := l.cron.AddFunc("@every 5m", l.reloadCatalog); err != nil {
		return fmt.Errorf("failed to schedule catalog reload: %w", err)
	}
	l.cron.Start()
	l.logger.Info("lifecycle started")
	return nil
}

// Get returns the local runtime for a channel, if this worker has one.
func (l *Lifecycle) Get(channelID string) *Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.channels[channelID]
}

// Channels returns a snapshot of the local runtimes.
func (l *Lifecycle) Channels() []*Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, ch)
	}
	return out
}

// EnsureChannel makes the channel locally usable: metadata present in the
// store, buffer and registry constructed, event subscription running, and
// an ownership attempt made. Idempotent; any number of workers may call it
// concurrently and exactly one ends up owning the fetch loop.
func (l *Lifecycle) EnsureChannel(ctx context.Context, channelID string) (*Channel, error) {
	l.mu.RLock()
	if ch, ok := l.channels[channelID]; ok {
		l.mu.RUnlock()
		return ch, nil
	}
	l.mu.RUnlock()

	md, err := l.loadOrCreateMetadata(ctx, channelID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if ch, ok := l.channels[channelID]; ok {
		// Another handler created it while we read the store.
		l.mu.Unlock()
		return ch, nil
	}

	ch := &Channel{
		ID:       channelID,
		Buffer:   buffer.New(channelID, md.BufferIndex+1, l.store, l.cfg.ChunkTTL, l.cfg.ChannelMetadataTTL, l.cfg.MaxLocalChunks, l.logger),
		Registry: clients.NewRegistry(channelID, l.store, l.cfg.ClientKeepaliveInterval, l.logger),
	}
	l.channels[channelID] = ch
	l.mu.Unlock()
	l.metrics.ActiveChannels.Inc()

	sub, err := l.bus.Subscribe(channelID, func(ev events.Event) { l.handleEvent(ch, ev) })
	if err != nil {
		l.logger.Warn("event subscription failed; switches from other workers will be missed",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
	} else {
		ch.mu.Lock()
		ch.sub = sub
		ch.mu.Unlock()
	}

	l.TryAcquireOwnership(ctx, ch)
	return ch, nil
}

// loadOrCreateMetadata reads the channel's metadata hash, resolving the
// catalog and writing fresh metadata when the channel does not exist yet.
func (l *Lifecycle) loadOrCreateMetadata(ctx context.Context, channelID string) (Metadata, error) {
	fields, err := l.store.HashGetAll(ctx, coordinator.MetadataKey(channelID))
	if err == nil {
		return metadataFromMap(fields), nil
	}
	if !errors.Is(err, coordinator.ErrNotFound) {
		return Metadata{}, fmt.Errorf("failed to read channel metadata: %w", err)
	}

	entry, err := l.catalog.Resolve(channelID)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	userAgent := entry.UserAgent
	if userAgent == "" {
		userAgent = l.cfg.UserAgent
	}
	md := Metadata{
		URL:         entry.URL,
		UserAgent:   userAgent,
		State:       stream.StateInitializing,
		BufferIndex: -1,
		CreatedAt:   nowMillis(),
		UpdatedAt:   nowMillis(),
		Transcode:   entry.Transcode,
	}
	if err := l.store.HashSet(ctx, coordinator.MetadataKey(channelID), md.toMap(), l.cfg.ChannelMetadataTTL); err != nil {
		return Metadata{}, fmt.Errorf("failed to write channel metadata: %w", err)
	}
	l.logger.Info("channel created",
		slog.String("channel_id", channelID),
		slog.String("url", md.URL))
	return md, nil
}

// TryAcquireOwnership attempts the atomic acquire on owner:{channel}. On
// success this worker becomes the writer: it resumes the buffer one past
// the stored buffer_index, starts the stream manager and the heartbeat.
// On failure the worker stays a follower. Returns whether we own the
// channel afterwards.
func (l *Lifecycle) TryAcquireOwnership(ctx context.Context, ch *Channel) bool {
	if ch.Owned() {
		return true
	}

	acquired, err := l.store.AtomicAcquire(ctx, coordinator.OwnerKey(ch.ID), l.workerID, l.cfg.OwnerLockTTL)
	if err != nil {
		l.logger.Warn("ownership acquire failed",
			slog.String("channel_id", ch.ID),
			slog.String("error", err.Error()))
		return false
	}
	if !acquired {
		return false
	}

	l.metrics.OwnershipAcquired.Inc()
	l.logger.Info("ownership acquired", slog.String("channel_id", ch.ID))

	// Resume the index sequence past anything a previous owner wrote.
	ch.Buffer.SyncLatest(ctx)

	md, err := l.loadOrCreateMetadata(ctx, ch.ID)
	if err != nil {
		// Metadata unreadable; release the lock so another worker can try.
		l.store.Release(ctx, coordinator.OwnerKey(ch.ID), l.workerID)
		l.logger.Warn("releasing ownership, metadata unreadable",
			slog.String("channel_id", ch.ID),
			slog.String("error", err.Error()))
		return false
	}

	mgr := stream.NewManager(ch.ID, md.URL, md.UserAgent, md.Transcode, ch.Buffer, stream.Config{
		ConnectionTimeout: l.cfg.ConnectionTimeout,
		StreamTimeout:     l.cfg.StreamTimeout,
		InitialBackoff:    l.cfg.InitialBackoff,
		MaxRetries:        l.cfg.MaxRetries,
		ReadSize:          l.cfg.ChunkReadSize,
	}, l.metrics, l.logger, func(s stream.State) { l.persistState(ch, s) })

	heartbeatStop := make(chan struct{})
	ch.mu.Lock()
	ch.owned = true
	ch.manager = mgr
	ch.heartbeatStop = heartbeatStop
	ch.mu.Unlock()

	l.writeOwnedMetadata(ctx, ch.ID, stream.StateConnecting)
	mgr.Start()
	go l.heartbeatLoop(ch, heartbeatStop)
	return true
}

// AmOwner reports whether this worker holds the channel locally.
func (l *Lifecycle) AmOwner(channelID string) bool {
	ch := l.Get(channelID)
	return ch != nil && ch.Owned()
}

// persistState mirrors a manager state transition into the metadata hash.
// Writes stop the moment ownership is lost so a demoted worker cannot
// clobber the new owner's state.
func (l *Lifecycle) persistState(ch *Channel, s stream.State) {
	if !ch.Owned() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()
	l.writeOwnedMetadata(ctx, ch.ID, s)
}

func (l *Lifecycle) writeOwnedMetadata(ctx context.Context, channelID string, s stream.State) {
	err := l.store.HashSet(ctx, coordinator.MetadataKey(channelID), map[string]string{
		"state":      string(s),
		"owner":      l.workerID,
		"updated_at": fmt.Sprintf("%d", nowMillis()),
	}, l.cfg.ChannelMetadataTTL)
	if err != nil {
		l.logger.Warn("failed to persist channel state",
			slog.String("channel_id", channelID),
			slog.String("state", string(s)),
			slog.String("error", err.Error()))
	}
}

// heartbeatLoop renews the ownership lock at a third of its TTL. A failed
// compare-and-renew means another worker holds (or will take) the lock:
// this worker demotes itself, stops the fetch loop and keeps the local
// buffer so in-flight readers can drain. Transient store errors are not
// demotion; the TTL gives the next ticks room to recover.
func (l *Lifecycle) heartbeatLoop(ch *Channel, stop <-chan struct{}) {
	interval := l.cfg.OwnerLockTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
			renewed, err := l.store.Renew(ctx, coordinator.OwnerKey(ch.ID), l.workerID, l.cfg.OwnerLockTTL)
			if err == nil && renewed {
				l.store.Expire(ctx, coordinator.MetadataKey(ch.ID), l.cfg.ChannelMetadataTTL)
				cancel()

				ev := events.NewEvent(events.KindOwnerHeartbeat, ch.ID, l.workerID)
				if pubErr := l.bus.Publish(context.Background(), ev); pubErr != nil {
					l.logger.Debug("heartbeat publish failed", slog.String("error", pubErr.Error()))
				}
				continue
			}
			cancel()

			if err != nil {
				l.logger.Warn("ownership renew errored, keeping lease until ttl",
					slog.String("channel_id", ch.ID),
					slog.String("error", err.Error()))
				continue
			}

			l.demote(ch)
			return
		}
	}
}

// demote strips ownership after a lost lock: the fetch loop stops, local
// chunks stay available for the chunk TTL, and this worker serves as a
// follower from then on.
func (l *Lifecycle) demote(ch *Channel) {
	ch.mu.Lock()
	if !ch.owned {
		ch.mu.Unlock()
		return
	}
	ch.owned = false
	mgr := ch.manager
	ch.manager = nil
	ch.heartbeatStop = nil
	ch.mu.Unlock()

	l.metrics.OwnershipLost.Inc()
	l.logger.Warn("ownership lost, demoting to follower", slog.String("channel_id", ch.ID))
	if mgr != nil {
		mgr.Stop()
	}
}

// handleEvent dispatches control events for one channel.
func (l *Lifecycle) handleEvent(ch *Channel, ev events.Event) {
	switch ev.Kind {
	case events.KindStreamSwitch:
		l.handleSwitchEvent(ch, ev)
	case events.KindStopChannel:
		if ev.Requester == l.workerID {
			return // we initiated it; teardown already ran
		}
		l.logger.Info("stop requested by another worker", slog.String("channel_id", ch.ID))
		l.teardownLocal(ch)
	case events.KindOwnerHeartbeat, events.KindClientCountChanged:
		// Observability only.
	default:
		l.logger.Debug("ignoring unknown event",
			slog.String("kind", ev.Kind),
			slog.String("channel_id", ch.ID))
	}
}

// handleSwitchEvent executes a URL switch requested by any worker. Only the
// owner acts; followers will observe the new URL via metadata if they ever
// become owner.
func (l *Lifecycle) handleSwitchEvent(ch *Channel, ev events.Event) {
	mgr := ch.Manager()
	if !ch.Owned() || mgr == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()

	url, userAgent := ev.URL, ev.UserAgent
	if url == "" {
		// Fall back to whatever the requester wrote into metadata.
		if fields, err := l.store.HashGetAll(ctx, coordinator.MetadataKey(ch.ID)); err == nil {
			md := metadataFromMap(fields)
			url, userAgent = md.URL, md.UserAgent
		}
	}
	if url == "" {
		l.logger.Warn("switch event without url", slog.String("channel_id", ch.ID))
		return
	}

	changed := mgr.UpdateURL(url, userAgent)
	l.logger.Info("switch event handled",
		slog.String("channel_id", ch.ID),
		slog.String("url", url),
		slog.Bool("changed", changed))
	if !changed {
		return
	}

	fields := map[string]string{
		"url":        url,
		"updated_at": fmt.Sprintf("%d", nowMillis()),
	}
	if userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if err := l.store.HashSet(ctx, coordinator.MetadataKey(ch.ID), fields, l.cfg.ChannelMetadataTTL); err != nil {
		l.logger.Warn("failed to persist switched url", slog.String("error", err.Error()))
	}

	// Audit ack so the requester can observe execution.
	ack := events.NewEvent(events.KindClientCountChanged, ch.ID, l.workerID)
	ack.URL = url
	ack.ClientCount = int64(ch.Registry.LocalCount())
	if err := l.bus.Publish(context.Background(), ack); err != nil {
		l.logger.Debug("switch ack publish failed", slog.String("error", err.Error()))
	}
}

// WaitServable blocks until the channel state allows the client read loop,
// the wait times out, or the owner gives up. Followers poll metadata; if
// the owner vanished mid-initialization past the init grace period, the
// first waiter takes over.
func (l *Lifecycle) WaitServable(ctx context.Context, ch *Channel, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if mgr := ch.Manager(); mgr != nil {
			switch st := mgr.State(); {
			case st.Servable():
				return nil
			case st == stream.StateError:
				return ErrUpstreamFailed
			}
		} else {
			fields, err := l.store.HashGetAll(ctx, coordinator.MetadataKey(ch.ID))
			if err != nil {
				if errors.Is(err, coordinator.ErrNotFound) {
					return ErrChannelNotFound
				}
			} else {
				md := metadataFromMap(fields)
				switch {
				case md.State.Servable():
					return nil
				case md.State == stream.StateError:
					return ErrUpstreamFailed
				case md.State.Pending():
					// Owner may have died before bringing the stream up.
					sinceCreate := time.Duration(nowMillis()-md.CreatedAt) * time.Millisecond
					if sinceCreate > l.cfg.ChannelInitGracePeriod {
						if _, err := l.store.Get(ctx, coordinator.OwnerKey(ch.ID)); errors.Is(err, coordinator.ErrNotFound) {
							if l.TryAcquireOwnership(ctx, ch) {
								continue
							}
						}
					}
				}
			}
		}

		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(statePollInterval):
		}
	}
}

// ClientConnected registers a streaming client and, when this worker has no
// owner for the channel yet, races for the lock.
func (l *Lifecycle) ClientConnected(ctx context.Context, ch *Channel, clientID, userAgent string) {
	ch.cancelShutdown()
	ch.Registry.Add(ctx, clientID, userAgent)
	l.metrics.ActiveClients.Inc()

	if !ch.Owned() {
		l.TryAcquireOwnership(ctx, ch)
	}

	l.publishClientCount(ch)
}

// ClientDisconnected removes a client; when the last local client leaves an
// owned channel, the grace-period shutdown is armed.
func (l *Lifecycle) ClientDisconnected(ctx context.Context, ch *Channel, clientID string) {
	remaining := ch.Registry.Remove(ctx, clientID)
	l.metrics.ActiveClients.Dec()
	l.publishClientCount(ch)

	if remaining == 0 && ch.Owned() {
		l.scheduleShutdown(ch)
	}
}

func (l *Lifecycle) publishClientCount(ch *Channel) {
	ev := events.NewEvent(events.KindClientCountChanged, ch.ID, l.workerID)
	ev.ClientCount = int64(ch.Registry.LocalCount())
	if err := l.bus.Publish(context.Background(), ev); err != nil {
		l.logger.Debug("client count publish failed", slog.String("error", err.Error()))
	}
}

// scheduleShutdown arms the grace timer. When it fires the global count is
// re-read: a client that arrived anywhere in the fleet keeps the channel
// alive.
func (l *Lifecycle) scheduleShutdown(ch *Channel) {
	ch.mu.Lock()
	if ch.shutdownTimer != nil {
		ch.mu.Unlock()
		return
	}
	ch.shutdownTimer = time.AfterFunc(l.cfg.ChannelShutdownDelay, func() {
		ch.mu.Lock()
		ch.shutdownTimer = nil
		ch.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
		defer cancel()

		if ch.Registry.LocalCount() > 0 || !ch.Owned() {
			return
		}
		global, err := ch.Registry.GlobalCount(ctx)
		if err != nil {
			l.logger.Warn("shutdown check failed, keeping channel",
				slog.String("channel_id", ch.ID),
				slog.String("error", err.Error()))
			return
		}
		if global > 0 {
			l.logger.Debug("shutdown aborted, clients on other workers",
				slog.String("channel_id", ch.ID),
				slog.Int64("global_count", global))
			return
		}
		l.StopChannel(context.Background(), ch.ID)
	})
	ch.mu.Unlock()

	l.logger.Info("grace shutdown armed",
		slog.String("channel_id", ch.ID),
		slog.Duration("delay", l.cfg.ChannelShutdownDelay))
}

// StopChannel tears the channel down fleet-wide: stop event on the bus, the
// fetch loop cancelled, local maps dropped, and the store keys removed.
// Existing readers keep draining whatever chunks remain until they stall.
func (l *Lifecycle) StopChannel(ctx context.Context, channelID string) {
	ch := l.Get(channelID)
	if ch == nil {
		return
	}

	l.logger.Info("stopping channel", slog.String("channel_id", channelID))

	if err := l.bus.Publish(ctx, events.NewEvent(events.KindStopChannel, channelID, l.workerID)); err != nil {
		l.logger.Debug("stop publish failed", slog.String("error", err.Error()))
	}

	wasOwner := ch.Owned()
	l.teardownLocal(ch)

	if wasOwner {
		if err := l.store.Delete(ctx,
			coordinator.MetadataKey(channelID),
			coordinator.ClientSetKey(channelID),
			coordinator.SwitchRequestKey(channelID),
		); err != nil {
			l.logger.Warn("failed to delete channel keys", slog.String("error", err.Error()))
		}
		l.store.Release(ctx, coordinator.OwnerKey(channelID), l.workerID)
	}
}

// teardownLocal stops the manager, heartbeat, subscription and timers and
// drops the channel from the local map. Store state is left alone; callers
// that own the channel delete it themselves.
func (l *Lifecycle) teardownLocal(ch *Channel) {
	ch.mu.Lock()
	mgr := ch.manager
	sub := ch.sub
	heartbeatStop := ch.heartbeatStop
	timer := ch.shutdownTimer
	ch.manager = nil
	ch.sub = nil
	ch.heartbeatStop = nil
	ch.shutdownTimer = nil
	ch.owned = false
	ch.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if heartbeatStop != nil {
		close(heartbeatStop)
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if mgr != nil {
		mgr.Stop()
	}

	l.mu.Lock()
	if l.channels[ch.ID] == ch {
		delete(l.channels, ch.ID)
		l.metrics.ActiveChannels.Dec()
	}
	l.mu.Unlock()
}

// Shutdown stops every local channel. Ownership locks are released; store
// metadata is left for surviving workers (or the TTL) to deal with, so a
// rolling restart does not tear down channels other workers still serve.
func (l *Lifecycle) Shutdown(ctx context.Context) {
	l.cron.Stop()

	for _, ch := range l.Channels() {
		wasOwner := ch.Owned()
		l.teardownLocal(ch)
		if wasOwner {
			l.store.Release(ctx, coordinator.OwnerKey(ch.ID), l.workerID)
		}
	}
	l.logger.Info("lifecycle shut down")
}

// sweepClients drops clients whose handlers stopped touching them and
// re-arms the grace shutdown when a sweep empties an owned channel.
func (l *Lifecycle) sweepClients() {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()

	for _, ch := range l.Channels() {
		removed := ch.Registry.Sweep(ctx, 2*l.cfg.StreamTimeout)
		if len(removed) == 0 {
			continue
		}
		l.metrics.ActiveClients.Sub(float64(len(removed)))
		l.publishClientCount(ch)
		if ch.Registry.LocalCount() == 0 && ch.Owned() {
			l.scheduleShutdown(ch)
		}
	}
}

// reapStaleChannels removes store metadata for channels whose owner is gone
// and whose metadata stopped being refreshed. Keeps the keyspace from
// accumulating channels that died without a clean stop.
func (l *Lifecycle) reapStaleChannels() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := l.store.Scan(ctx, coordinator.MetadataScanPrefix())
	if err != nil {
		l.logger.Warn("channel reap scan failed", slog.String("error", err.Error()))
		return
	}

	for _, key := range keys {
		channelID := coordinator.ChannelFromMetadataKey(key)
		if channelID == "" {
			continue
		}

		fields, err := l.store.HashGetAll(ctx, key)
		if err != nil {
			continue
		}
		md := metadataFromMap(fields)

		if _, err := l.store.Get(ctx, coordinator.OwnerKey(channelID)); err == nil {
			continue // live owner
		}

		stale := md.State == stream.StateStopped ||
			time.Duration(nowMillis()-md.UpdatedAt)*time.Millisecond > l.cfg.ChannelMetadataTTL
		if !stale {
			continue
		}

		count, err := l.store.SetCard(ctx, coordinator.ClientSetKey(channelID))
		if err != nil || count > 0 {
			continue
		}

		l.logger.Info("reaping stale channel", slog.String("channel_id", channelID))
		l.store.Delete(ctx, key, coordinator.ClientSetKey(channelID), coordinator.SwitchRequestKey(channelID))
	}
}

func (l *Lifecycle) reloadCatalog() {
	if err := l.catalog.Reload(); err != nil {
		l.logger.Warn("catalog reload failed", slog.String("error", err.Error()))
	}
}
