package proxy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luminetv/tsproxy/internal/channel"
	"github.com/luminetv/tsproxy/internal/logger"
)

// ChangeStreamRequest is the body of POST /change_stream/:channel.
type ChangeStreamRequest struct {
	URL       string `json:"url" binding:"required"`
	UserAgent string `json:"user_agent"`
}

// ChangeStreamHandler requests a URL switch for a channel. The switch is
// executed by whichever worker owns the channel; the response reports
// whether that was this one.
func ChangeStreamHandler(lifecycle *channel.Lifecycle, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("channel")
		handlerLog := log.WithComponent("api").WithChannel(channelID)

		var req ChangeStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
			return
		}

		owner, err := lifecycle.ChangeStream(c.Request.Context(), channelID, req.URL, req.UserAgent)
		if err != nil {
			if errors.Is(err, channel.ErrChannelNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
				return
			}
			handlerLog.Error("stream switch failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to switch stream"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   "stream switch requested",
			"channel":   channelID,
			"url":       req.URL,
			"owner":     owner,
			"worker_id": lifecycle.WorkerID(),
		})
	}
}

// StatusAllHandler lists every channel known to the fleet.
func StatusAllHandler(lifecycle *channel.Lifecycle, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := lifecycle.StatusAll(c.Request.Context())
		if err != nil {
			log.WithComponent("api").Error("status scan failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"channels":  statuses,
			"count":     len(statuses),
			"worker_id": lifecycle.WorkerID(),
		})
	}
}

// StatusOneHandler reports one channel, overlaying this worker's local view.
func StatusOneHandler(lifecycle *channel.Lifecycle, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("channel")

		status, err := lifecycle.StatusOne(c.Request.Context(), channelID)
		if err != nil {
			if errors.Is(err, channel.ErrChannelNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
				return
			}
			log.WithComponent("api").WithChannel(channelID).Error("status read failed",
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read channel"})
			return
		}

		c.JSON(http.StatusOK, status)
	}
}

// HealthHandler answers liveness probes.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
