package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/valyala/bytebufferpool"

	"github.com/luminetv/tsproxy/internal/channel"
	"github.com/luminetv/tsproxy/internal/clients"
	"github.com/luminetv/tsproxy/internal/config"
	"github.com/luminetv/tsproxy/internal/logger"
	"github.com/luminetv/tsproxy/internal/metrics"
)

const (
	// tsPacketSize is the fixed MPEG-TS packet size; keep-alives are exactly
	// one packet so players never see a partial one.
	tsPacketSize = 188

	// Empty-read backoff bounds for the client loop.
	minIdleSleep = 10 * time.Millisecond
	maxIdleSleep = time.Second

	// Ghost detection: a client this far behind that still reads nothing has
	// fallen out of the retention window and will never catch up.
	ghostBehindChunks = 50
	ghostEmptyReads   = 100
)

// nullPacket is the TS null packet (sync byte 0x47, PID 0x1FFF) written as a
// keep-alive while upstream is stalled. Players discard it by PID.
var nullPacket = func() []byte {
	p := make([]byte, tsPacketSize)
	p[0] = 0x47
	p[1] = 0x1F
	p[2] = 0xFF
	return p
}()

// StreamHandler serves GET /stream/:channel: an unbounded video/mp2t
// response fed from the channel's chunk buffer. The handler blocks for the
// lifetime of the client connection.
func StreamHandler(cfg *config.Config, lifecycle *channel.Lifecycle, m *metrics.Metrics, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("channel")
		clientID := clients.NewClientID()

		ctx := logger.WithClientID(logger.WithChannelID(c.Request.Context(), channelID), clientID)
		streamLog := log.WithContext(ctx).WithComponent("streamer")

		ch, err := lifecycle.EnsureChannel(ctx, channelID)
		if err != nil {
			if errors.Is(err, channel.ErrChannelNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
				return
			}
			streamLog.Error("channel setup failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare channel"})
			return
		}

		if err := lifecycle.WaitServable(ctx, ch, cfg.ClientWaitTimeout); err != nil {
			switch {
			case errors.Is(err, channel.ErrUpstreamFailed):
				c.JSON(http.StatusBadGateway, gin.H{"error": "upstream stream unavailable"})
			case errors.Is(err, channel.ErrWaitTimeout):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream not ready"})
			case errors.Is(err, channel.ErrChannelNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			default:
				// Client went away while waiting.
			}
			return
		}

		lifecycle.ClientConnected(ctx, ch, clientID, c.Request.UserAgent())
		defer func() {
			// Request context is gone by now; disconnect uses its own deadline.
			dctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
			defer cancel()
			lifecycle.ClientDisconnected(dctx, ch, clientID)
		}()

		c.Header("Content-Type", "video/mp2t")
		c.Header("Cache-Control", "no-cache, no-store")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		streamLog.Info("client connected", slog.String("user_agent", c.Request.UserAgent()))
		relayLoop(ctx, c, cfg, ch, clientID, m, streamLog)
		streamLog.Info("client disconnected")
	}
}

// relayLoop is the per-client read loop: drain available chunks, flush them
// as one write, and otherwise back off, emit keep-alives, and watch for the
// stall and ghost exits.
func relayLoop(ctx context.Context, c *gin.Context, cfg *config.Config, ch *channel.Channel, clientID string, m *metrics.Metrics, streamLog *logger.Logger) {
	cursor := int64(0)
	if latest := ch.Buffer.LatestIndex(); latest >= 0 {
		cursor = latest - int64(cfg.InitialBehindChunks)
		if cursor < 0 {
			cursor = 0
		}
	}
	ch.Registry.SetCursor(clientID, cursor)

	var (
		lastData      = time.Now()
		lastKeepalive time.Time
		idleSleep     = minIdleSleep
		emptyReads    = 0
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunks, next := ch.Buffer.ChunksFrom(ctx, cursor, cfg.MaxChunksPerRead, cfg.MaxFlushBytes)
		if len(chunks) > 0 {
			bb := bytebufferpool.Get()
			for _, chunk := range chunks {
				bb.Write(chunk.Data)
			}
			_, err := c.Writer.Write(bb.B)
			written := bb.Len()
			bytebufferpool.Put(bb)
			if err != nil {
				streamLog.Debug("client write failed", slog.String("error", err.Error()))
				return
			}
			c.Writer.Flush()

			m.BytesRelayed.WithLabelValues(ch.ID).Add(float64(written))
			cursor = next
			ch.Registry.SetCursor(clientID, cursor)
			ch.Registry.Touch(ctx, clientID)

			lastData = time.Now()
			idleSleep = minIdleSleep
			emptyReads = 0
			continue
		}

		emptyReads++

		// Followers learn about new chunks only through metadata.
		if !ch.Owned() {
			ch.Buffer.SyncLatest(ctx)
		}

		stalled := time.Since(lastData)
		if stalled > cfg.StreamTimeout && !ch.Healthy() {
			streamLog.Warn("stream stalled beyond timeout, dropping client",
				slog.Duration("stalled", stalled))
			return
		}

		if latest := ch.Buffer.LatestIndex(); latest-cursor >= ghostBehindChunks && emptyReads >= ghostEmptyReads {
			// Far behind yet reading nothing: the retention window has moved
			// past this client for good.
			streamLog.Warn("ghost client detected, dropping",
				slog.Int64("cursor", cursor),
				slog.Int64("latest", latest))
			return
		}

		if stalled >= cfg.KeepaliveInterval && !ch.Healthy() &&
			time.Since(lastKeepalive) >= cfg.KeepaliveInterval {
			if _, err := c.Writer.Write(nullPacket); err != nil {
				streamLog.Debug("keepalive write failed", slog.String("error", err.Error()))
				return
			}
			c.Writer.Flush()
			lastKeepalive = time.Now()
			m.KeepalivesSent.WithLabelValues(ch.ID).Inc()
			ch.Registry.Touch(ctx, clientID)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idleSleep):
		}
		if idleSleep *= 2; idleSleep > maxIdleSleep {
			idleSleep = maxIdleSleep
		}
	}
}
