package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// workerID is a unique identifier for this worker process.
// Used to correlate logs and ownership records across the fleet.
var workerID string

func init() {
	// Kubernetes sets HOSTNAME; bare deployments may set WORKER_ID.
	workerID = os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = os.Getenv("HOSTNAME")
	}
	// Generate random ID as fallback
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
}

// WorkerID returns the worker ID for this process. The same value is written
// into owner locks in the coordination store.
func WorkerID() string {
	return workerID
}

// Config holds the configuration of the logger.
type Config struct {
	Level  slog.Level
	Format string
}

// contextKey is used for context values.
type contextKey string

const (
	// ContextKeyChannelID is the key for the channel UUID in the context.
	ContextKeyChannelID contextKey = "channel_id"
	// ContextKeyClientID is the key for the streaming client ID in the context.
	ContextKeyClientID contextKey = "client_id"
)

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the given config.
func New(config Config) *Logger {
	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Better timestamp format.
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   a.Key,
						Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
					}
				}
				return a
			},
		}
		// Add worker_id to all logs so multi-worker traces interleave cleanly.
		return &Logger{
			Logger: slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(slog.String("worker_id", workerID)),
		}
	}

	opts := &tint.Options{
		Level:      config.Level,
		TimeFormat: time.Kitchen,
	}

	return &Logger{
		Logger: slog.New(tint.NewHandler(os.Stdout, opts)).With(slog.String("worker_id", workerID)),
	}
}

// FromConfig creates a logger configuration from the main config.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{
		Level:  slog.LevelInfo,
		Format: "text",
	}

	switch logLevel {
	case "debug":
		config.Level = slog.LevelDebug
	case "info":
		config.Level = slog.LevelInfo
	case "warn":
		config.Level = slog.LevelWarn
	case "error":
		config.Level = slog.LevelError
	}

	if logFormat != "" {
		config.Format = logFormat
	}

	// Use JSON format in production.
	if env := os.Getenv("APP_ENV"); env == "production" {
		config.Format = "json"
	}

	return config
}

// WithContext creates a new logger with context-specific attributes.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if channelID, ok := ctx.Value(ContextKeyChannelID).(string); ok && channelID != "" {
		logger = logger.With(slog.String("channel_id", channelID))
	}

	if clientID, ok := ctx.Value(ContextKeyClientID).(string); ok && clientID != "" {
		logger = logger.With(slog.String("client_id", clientID))
	}

	return &Logger{
		Logger: logger,
	}
}

// WithComponent creates a new logger with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", component)),
	}
}

// WithChannel creates a new logger scoped to one channel.
func (l *Logger) WithChannel(channelID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("channel_id", channelID)),
	}
}
