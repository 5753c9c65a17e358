package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/events"
)

// Status is the per-channel view served on the status endpoints. Store
// fields are fleet-wide; the local fields describe this worker only.
type Status struct {
	Channel     string `json:"channel"`
	State       string `json:"state"`
	URL         string `json:"url"`
	Owner       string `json:"owner,omitempty"`
	BufferIndex int64  `json:"buffer_index"`
	Clients     int64  `json:"clients"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`

	LocalClients int  `json:"local_clients"`
	LocalOwner   bool `json:"local_owner"`
	Healthy      bool `json:"healthy"`
}

// StatusOne builds the status view for a single channel from the store,
// overlaying whatever local runtime this worker has.
func (l *Lifecycle) StatusOne(ctx context.Context, channelID string) (Status, error) {
	fields, err := l.store.HashGetAll(ctx, coordinator.MetadataKey(channelID))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			return Status{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return Status{}, fmt.Errorf("failed to read channel status: %w", err)
	}
	md := metadataFromMap(fields)

	st := Status{
		Channel:     channelID,
		State:       string(md.State),
		URL:         md.URL,
		Owner:       md.Owner,
		BufferIndex: md.BufferIndex,
		CreatedAt:   md.CreatedAt,
		UpdatedAt:   md.UpdatedAt,
	}

	if count, err := l.store.SetCard(ctx, coordinator.ClientSetKey(channelID)); err == nil {
		st.Clients = count
	}

	if ch := l.Get(channelID); ch != nil {
		st.LocalClients = ch.Registry.LocalCount()
		st.LocalOwner = ch.Owned()
		st.Healthy = ch.Healthy()
		if mgr := ch.Manager(); mgr != nil {
			// The owner's in-memory state is fresher than the store copy.
			st.State = string(mgr.State())
			st.URL = mgr.CurrentURL()
			st.BufferIndex = ch.Buffer.LatestIndex()
		}
	}
	return st, nil
}

// StatusAll scans the store for every known channel across the fleet.
func (l *Lifecycle) StatusAll(ctx context.Context) ([]Status, error) {
	keys, err := l.store.Scan(ctx, coordinator.MetadataScanPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to scan channels: %w", err)
	}

	statuses := make([]Status, 0, len(keys))
	for _, key := range keys {
		channelID := coordinator.ChannelFromMetadataKey(key)
		if channelID == "" {
			continue
		}
		st, err := l.StatusOne(ctx, channelID)
		if err != nil {
			continue // expired between scan and read
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// ChangeStream requests a URL switch. The new target is written to metadata
// so late joiners and future owners see it, recorded under the switch
// request key for audit, and broadcast on the bus; the owner, wherever it
// runs, reconnects at its next read boundary. Returns whether this worker
// is the owner.
func (l *Lifecycle) ChangeStream(ctx context.Context, channelID, url, userAgent string) (bool, error) {
	if _, err := l.store.HashGetAll(ctx, coordinator.MetadataKey(channelID)); err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			if l.Get(channelID) == nil {
				return false, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
			}
		} else {
			return false, fmt.Errorf("failed to read channel metadata: %w", err)
		}
	}

	fields := map[string]string{
		"url":        url,
		"updated_at": fmt.Sprintf("%d", nowMillis()),
	}
	if userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if err := l.store.HashSet(ctx, coordinator.MetadataKey(channelID), fields, l.cfg.ChannelMetadataTTL); err != nil {
		return false, fmt.Errorf("failed to persist switch target: %w", err)
	}

	// Audit record: who asked for what, correlatable across worker logs.
	requestID := uuid.NewString()
	if audit, err := json.Marshal(map[string]string{
		"request_id": requestID,
		"url":        url,
		"requester":  l.workerID,
	}); err == nil {
		l.store.Set(ctx, coordinator.SwitchRequestKey(channelID), string(audit), l.cfg.ChannelMetadataTTL)
	}

	ev := events.NewEvent(events.KindStreamSwitch, channelID, l.workerID)
	ev.URL = url
	ev.UserAgent = userAgent
	if err := l.bus.Publish(ctx, ev); err != nil {
		l.logger.Warn("switch publish failed", slog.String("error", err.Error()))
	}

	// When the owner is local the switch applies even if the bus echo is
	// lost; UpdateURL makes the duplicate delivery a no-op.
	owner := false
	if ch := l.Get(channelID); ch != nil && ch.Owned() {
		owner = true
		l.handleSwitchEvent(ch, ev)
	}

	l.logger.Info("stream switch requested",
		slog.String("channel_id", channelID),
		slog.String("request_id", requestID),
		slog.String("url", url),
		slog.Bool("owner", owner))
	return owner, nil
}
