package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the proxy core. It is loaded once at
// startup and passed explicitly; there is no package-level state beyond
// what Load returns.
type Config struct {
	Port    string
	GinMode string

	// Coordination store (Redis).
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTimeout  time.Duration // per-operation bound for store calls
	StoreRetries  int           // retry attempts for transient store errors

	// Event bus (NATS).
	NatsURL string

	// Channel catalog.
	ChannelsFile string

	// Chunk buffer.
	ChunkTTL        time.Duration // TTL of chunk:{channel}:{index} blobs
	MaxLocalChunks  int           // local ring depth; older chunks evicted
	ChunkReadSize   int           // upstream read burst size in bytes
	MaxChunksPerRead int          // MAX_CHUNKS per client flush
	TargetFlushBytes int          // soft target bytes per response flush
	MaxFlushBytes    int          // hard cap bytes per response flush

	// Ownership.
	OwnerLockTTL time.Duration

	// Upstream.
	ConnectionTimeout time.Duration
	StreamTimeout     time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	UserAgent         string // default UA when the catalog has none

	// Client handling.
	ClientWaitTimeout       time.Duration
	InitialBehindChunks     int
	KeepaliveInterval       time.Duration // minimum gap between null packets
	ClientKeepaliveInterval time.Duration // KV TTL refresh cadence per client
	ClientCleanupInterval   time.Duration // sweeper cadence

	// Channel lifecycle.
	ChannelShutdownDelay   time.Duration
	ChannelInitGracePeriod time.Duration
	ChannelMetadataTTL     time.Duration // sliding TTL on metadata:{channel}

	// Server.
	ServerShutdownTimeout time.Duration

	// Logging.
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, loading .env first if
// one is present in the working directory.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		StoreTimeout:  getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		StoreRetries:  getEnvAsInt("STORE_RETRIES", 3),

		NatsURL: getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		ChannelsFile: getEnvOrDefault("CHANNELS_FILE", "channels.yaml"),

		ChunkTTL:         getEnvAsDuration("REDIS_CHUNK_TTL", 60*time.Second),
		MaxLocalChunks:   getEnvAsInt("BUFFER_MAX_CHUNKS", 256),
		ChunkReadSize:    getEnvAsInt("CHUNK_READ_SIZE", 32*1024),
		MaxChunksPerRead: getEnvAsInt("MAX_CHUNKS", 20),
		TargetFlushBytes: getEnvAsInt("TARGET_FLUSH_BYTES", 1024*1024),
		MaxFlushBytes:    getEnvAsInt("MAX_FLUSH_BYTES", 2*1024*1024),

		OwnerLockTTL: getEnvAsDuration("OWNER_LOCK_TTL", 30*time.Second),

		ConnectionTimeout: getEnvAsDuration("CONNECTION_TIMEOUT", 10*time.Second),
		StreamTimeout:     getEnvAsDuration("STREAM_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvAsInt("MAX_RETRIES", 5),
		InitialBackoff:    getEnvAsDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		UserAgent:         getEnvOrDefault("USER_AGENT", "IPTV Smarters/1.0.3 (iPad; iOS 16.6.1; Scale/2.00)"),

		ClientWaitTimeout:       getEnvAsDuration("CLIENT_WAIT_TIMEOUT", 30*time.Second),
		InitialBehindChunks:     getEnvAsInt("INITIAL_BEHIND_CHUNKS", 10),
		KeepaliveInterval:       getEnvAsDuration("KEEPALIVE_INTERVAL", 500*time.Millisecond),
		ClientKeepaliveInterval: getEnvAsDuration("CLIENT_KEEPALIVE_INTERVAL", 5*time.Second),
		ClientCleanupInterval:   getEnvAsDuration("CLIENT_CLEANUP_INTERVAL", 10*time.Second),

		ChannelShutdownDelay:   getEnvAsDuration("CHANNEL_SHUTDOWN_DELAY", 5*time.Second),
		ChannelInitGracePeriod: getEnvAsDuration("CHANNEL_INIT_GRACE_PERIOD", 5*time.Second),
		ChannelMetadataTTL:     getEnvAsDuration("CHANNEL_METADATA_TTL", 5*time.Minute),

		ServerShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),
	}

	if cfg.MaxFlushBytes < cfg.TargetFlushBytes {
		log.Printf("Warning: MAX_FLUSH_BYTES (%d) below TARGET_FLUSH_BYTES (%d), raising cap",
			cfg.MaxFlushBytes, cfg.TargetFlushBytes)
		cfg.MaxFlushBytes = cfg.TargetFlushBytes
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// Bare numbers are treated as seconds, matching the deployment docs.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		log.Printf("Warning: Failed to parse environment variable %s='%s' as duration, using default %v", key, value, defaultValue)
	}
	return defaultValue
}
