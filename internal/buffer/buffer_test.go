package buffer

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/logger"
)

func newTestStore(t *testing.T) coordinator.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	log := logger.New(logger.Config{Level: slog.LevelError})

	store, err := coordinator.NewRedisStore(context.Background(), coordinator.Options{
		Addr:    mr.Addr(),
		Timeout: time.Second,
		Retries: 1,
	}, log)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestBuffer(t *testing.T, store coordinator.Store, startIndex int64, maxChunks int) *ChunkBuffer {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	return New("ch1", startIndex, store, time.Minute, 5*time.Minute, maxChunks, log)
}

func packet(marker byte) []byte {
	p := make([]byte, 188)
	p[0] = 0x47
	p[1] = marker
	return p
}

func TestAppendAssignsDenseIndices(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	if buf.LatestIndex() != -1 {
		t.Fatalf("fresh buffer latest should be -1, got %d", buf.LatestIndex())
	}

	for i := 0; i < 5; i++ {
		idx := buf.Append(ctx, packet(byte(i)))
		if idx != int64(i) {
			t.Errorf("append %d got index %d", i, idx)
		}
	}
	if buf.LatestIndex() != 4 {
		t.Errorf("latest should be 4, got %d", buf.LatestIndex())
	}
	if buf.NextIndex() != 5 {
		t.Errorf("next should be 5, got %d", buf.NextIndex())
	}
}

func TestAppendCopiesCallerBuffer(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	data := packet(0xAA)
	buf.Append(ctx, data)
	data[1] = 0xBB // caller reuses its read buffer

	chunks, _ := buf.ChunksFrom(ctx, 0, 1, 1<<20)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Data[1] != 0xAA {
		t.Error("chunk shares memory with the caller's buffer")
	}
}

func TestRingEviction(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		buf.Append(ctx, packet(byte(i)))
	}
	if buf.Len() != 4 {
		t.Errorf("ring should hold 4 chunks, holds %d", buf.Len())
	}
}

func TestChunksFromPastLiveEdge(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	buf.Append(ctx, packet(0))

	chunks, next := buf.ChunksFrom(ctx, 5, 10, 1<<20)
	if len(chunks) != 0 {
		t.Errorf("read past live edge returned %d chunks", len(chunks))
	}
	if next != 5 {
		t.Errorf("cursor must not move on an empty read past live, got %d", next)
	}
}

func TestChunksFromRespectsLimits(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 32)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		buf.Append(ctx, packet(byte(i)))
	}

	chunks, next := buf.ChunksFrom(ctx, 0, 3, 1<<20)
	if len(chunks) != 3 {
		t.Fatalf("maxCount=3 returned %d chunks", len(chunks))
	}
	if next != 3 {
		t.Errorf("cursor should advance to 3, got %d", next)
	}

	// maxBytes stops after the chunk that crosses the bound.
	chunks, _ = buf.ChunksFrom(ctx, 0, 10, 200)
	if len(chunks) != 1 && len(chunks) != 2 {
		t.Errorf("maxBytes=200 returned %d chunks", len(chunks))
	}
}

func TestSlowClientCatchUpJump(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 4)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		buf.Append(ctx, packet(byte(i)))
	}

	// Cursor 0 fell behind the 4-chunk retention window; the read jumps
	// forward instead of failing.
	chunks, next := buf.ChunksFrom(ctx, 0, 10, 1<<20)
	if len(chunks) == 0 {
		t.Fatal("catch-up read returned nothing")
	}
	if chunks[0].Index < 16 {
		t.Errorf("expected jump to the retention floor, got index %d", chunks[0].Index)
	}
	if next <= 16 {
		t.Errorf("cursor should land past the floor, got %d", next)
	}
}

func TestFollowerReadsThroughStore(t *testing.T) {
	store := newTestStore(t)
	owner := newTestBuffer(t, store, 0, 16)
	follower := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	want := packet(0x42)
	owner.Append(ctx, want)
	owner.Append(ctx, packet(0x43))

	// The follower has no local chunks; SyncLatest lifts its live edge from
	// metadata, then reads come from the store mirror.
	latest := follower.SyncLatest(ctx)
	if latest != 1 {
		t.Fatalf("follower live edge should be 1, got %d", latest)
	}

	chunks, next := follower.ChunksFrom(ctx, 0, 10, 1<<20)
	if len(chunks) != 2 {
		t.Fatalf("follower read got %d chunks", len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, want) {
		t.Error("follower chunk 0 does not match what the owner wrote")
	}
	if next != 2 {
		t.Errorf("follower cursor should be 2, got %d", next)
	}
}

func TestSyncLatestNeverLowersEdge(t *testing.T) {
	store := newTestStore(t)
	buf := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		buf.Append(ctx, packet(byte(i)))
	}

	// Stale metadata (lower buffer_index) must not rewind the edge.
	err := store.HashSet(ctx, coordinator.MetadataKey("ch1"), map[string]string{
		"buffer_index": "1",
	}, time.Minute)
	if err != nil {
		t.Fatalf("hash set failed: %v", err)
	}

	if latest := buf.SyncLatest(ctx); latest != 4 {
		t.Errorf("edge moved backwards to %d", latest)
	}
}

func TestTakeoverResumesPastStoredIndex(t *testing.T) {
	store := newTestStore(t)
	old := newTestBuffer(t, store, 0, 16)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		old.Append(ctx, packet(byte(i)))
	}

	// New owner constructs its buffer one past the stored buffer_index.
	replacement := newTestBuffer(t, store, old.LatestIndex()+1, 16)
	idx := replacement.Append(ctx, packet(0x99))
	if idx != 3 {
		t.Errorf("takeover should resume at 3, got %d", idx)
	}
}
