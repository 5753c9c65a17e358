package config

import (
	"testing"
	"time"
)

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DUR_SUFFIX", "1500ms")
	if got := getEnvAsDuration("TEST_DUR_SUFFIX", time.Second); got != 1500*time.Millisecond {
		t.Errorf("suffixed duration parsed as %v", got)
	}

	// Bare numbers are seconds.
	t.Setenv("TEST_DUR_BARE", "45")
	if got := getEnvAsDuration("TEST_DUR_BARE", time.Second); got != 45*time.Second {
		t.Errorf("bare duration parsed as %v", got)
	}

	t.Setenv("TEST_DUR_BAD", "soon")
	if got := getEnvAsDuration("TEST_DUR_BAD", 7*time.Second); got != 7*time.Second {
		t.Errorf("invalid duration should fall back to default, got %v", got)
	}

	if got := getEnvAsDuration("TEST_DUR_UNSET", 3*time.Second); got != 3*time.Second {
		t.Errorf("unset key should use default, got %v", got)
	}
}

func TestLoadFlushBoundsAreConsistent(t *testing.T) {
	t.Setenv("TARGET_FLUSH_BYTES", "1000")
	t.Setenv("MAX_FLUSH_BYTES", "500")

	cfg := Load()
	if cfg.MaxFlushBytes < cfg.TargetFlushBytes {
		t.Errorf("max flush (%d) ended up below target (%d)", cfg.MaxFlushBytes, cfg.TargetFlushBytes)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.OwnerLockTTL <= 0 {
		t.Error("owner lock TTL must be positive")
	}
	if cfg.MaxLocalChunks <= 0 {
		t.Error("buffer depth must be positive")
	}
	if cfg.UserAgent == "" {
		t.Error("default user agent must be set")
	}
}
