package stream

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoffStrategy(100*time.Millisecond, 400*time.Millisecond)

	for i, want := range []time.Duration{100, 200, 400, 400} {
		got := b.Next()
		base := want * time.Millisecond
		if got < base || got > base+base/4 {
			t.Errorf("step %d: got %v, want %v plus at most 25%% jitter", i, got, base)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffStrategy(100*time.Millisecond, time.Second)
	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got >= 200*time.Millisecond {
		t.Errorf("reset did not return to the initial delay, got %v", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoffStrategy(0, 50*time.Millisecond)
	if b.initial <= 0 {
		t.Error("zero initial should fall back to a positive default")
	}
	if b.max < b.initial {
		t.Error("max must never be below initial")
	}
}
