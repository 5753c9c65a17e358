package buffer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/logger"
)

// Chunk is one immutable slice of upstream payload with its monotonic index.
type Chunk struct {
	Index int64
	Data  []byte
}

// ChunkBuffer is the per-channel ring of indexed MPEG-TS chunks.
//
// Exactly one writer (the owner's fetch loop) calls Append; any number of
// readers (client handlers on this worker and, through the coordination
// store, on other workers) call ChunksFrom. Indices are dense and only ever
// increase; a chunk is immutable once written.
//
// Every append is mirrored to the store under chunk:{channel}:{index} with a
// short TTL so a follower worker can keep serving bytes it did not produce
// while ownership migrates. Store failures degrade to local-only operation;
// they never stall the writer.
type ChunkBuffer struct {
	channelID   string
	store       coordinator.Store
	chunkTTL    time.Duration
	metadataTTL time.Duration
	maxChunks   int
	logger      *logger.Logger

	mu        sync.RWMutex
	chunks    map[int64][]byte
	minIndex  int64 // lowest index still held locally
	nextIndex int64 // index the next Append will take
}

// New creates a buffer whose next append takes startIndex. A fresh channel
// starts at 0; a worker taking over a crashed owner resumes one past the
// buffer_index recorded in the store, keeping indices monotonic across the
// migration.
func New(channelID string, startIndex int64, store coordinator.Store, chunkTTL, metadataTTL time.Duration, maxChunks int, log *logger.Logger) *ChunkBuffer {
	if maxChunks < 1 {
		maxChunks = 1
	}
	return &ChunkBuffer{
		channelID:   channelID,
		store:       store,
		chunkTTL:    chunkTTL,
		metadataTTL: metadataTTL,
		maxChunks:   maxChunks,
		logger:      log.WithComponent("buffer").WithChannel(channelID),
		chunks:      make(map[int64][]byte),
		minIndex:    startIndex,
		nextIndex:   startIndex,
	}
}

// Append writes one chunk and returns its index. The data is copied; the
// caller may reuse its read buffer. Local eviction and the store mirror
// happen on the writer's goroutine, never under a reader's feet.
func (b *ChunkBuffer) Append(ctx context.Context, data []byte) int64 {
	owned := make([]byte, len(data))
	copy(owned, data)

	b.mu.Lock()
	index := b.nextIndex
	b.chunks[index] = owned
	b.nextIndex++

	// Evict below the ring floor. Indices are dense, so walking up from
	// minIndex is O(evicted).
	floor := b.nextIndex - int64(b.maxChunks)
	for b.minIndex < floor {
		delete(b.chunks, b.minIndex)
		b.minIndex++
	}
	b.mu.Unlock()

	// Mirror to the store: the chunk blob first, then buffer_index, so a
	// reader that sees the new index can always fetch the chunk.
	if err := b.store.BlobPut(ctx, coordinator.ChunkKey(b.channelID, index), owned, b.chunkTTL); err != nil {
		b.logger.Debug("chunk mirror failed", slog.Int64("index", index), slog.String("error", err.Error()))
		return index
	}
	err := b.store.HashSet(ctx, coordinator.MetadataKey(b.channelID), map[string]string{
		"buffer_index": strconv.FormatInt(index, 10),
		"updated_at":   strconv.FormatInt(time.Now().UnixMilli(), 10),
	}, b.metadataTTL)
	if err != nil {
		b.logger.Debug("buffer_index update failed", slog.Int64("index", index), slog.String("error", err.Error()))
	}
	return index
}

// LatestIndex returns the highest index written, or -1 before the first
// append.
func (b *ChunkBuffer) LatestIndex() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextIndex - 1
}

// NextIndex returns the index the next append will take.
func (b *ChunkBuffer) NextIndex() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextIndex
}

// ChunksFrom returns up to maxCount contiguous chunks starting at start,
// bounded by maxBytes, and the cursor for the next call. A start past the
// live edge returns empty with the cursor unchanged. A start that has fallen
// behind every retrievable copy jumps forward to the oldest chunk still
// available; the jump is the slow-client catch-up, not an error.
//
// Local chunks are copied out under a read lock; misses fall back to the
// store so a follower can serve indices this worker never produced.
func (b *ChunkBuffer) ChunksFrom(ctx context.Context, start int64, maxCount, maxBytes int) ([]Chunk, int64) {
	if maxCount <= 0 {
		return nil, start
	}
	if start < 0 {
		start = 0
	}

	b.mu.RLock()
	latest := b.nextIndex - 1
	minLocal := b.minIndex
	b.mu.RUnlock()

	if start > latest {
		return nil, start
	}

	// Nothing older than latest-maxChunks is served; a cursor below the
	// retention floor jumps forward (slow-client catch-up).
	cursor := start
	if floor := latest - int64(b.maxChunks) + 1; cursor < floor {
		cursor = floor
	}
	if cursor < 0 {
		cursor = 0
	}

	var (
		out    []Chunk
		total  int
		probes int
	)
	for cursor <= latest && len(out) < maxCount && total < maxBytes && probes < b.maxChunks {
		probes++
		data, ok := b.localChunk(cursor)
		if !ok {
			data, ok = b.storeChunk(ctx, cursor)
		}
		if !ok {
			if len(out) > 0 {
				// Dense from here on; serve what we have.
				break
			}
			if cursor < minLocal {
				// Store copy expired before the local floor; skip ahead.
				cursor = minLocal
				continue
			}
			// Follower whose store copy at this index expired: probe
			// forward, bounded, instead of stalling below live.
			cursor++
			continue
		}
		out = append(out, Chunk{Index: cursor, Data: data})
		total += len(data)
		cursor++
	}

	if len(out) == 0 {
		// Leave the cursor where probing ended so the next poll resumes
		// there; it never moves backwards.
		if cursor < start {
			cursor = start
		}
		return nil, cursor
	}
	return out, cursor
}

func (b *ChunkBuffer) localChunk(index int64) ([]byte, bool) {
	b.mu.RLock()
	data, ok := b.chunks[index]
	b.mu.RUnlock()
	return data, ok
}

func (b *ChunkBuffer) storeChunk(ctx context.Context, index int64) ([]byte, bool) {
	data, err := b.store.BlobGet(ctx, coordinator.ChunkKey(b.channelID, index))
	if err != nil {
		if !errors.Is(err, coordinator.ErrNotFound) {
			b.logger.Debug("chunk fetch failed", slog.Int64("index", index), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return data, true
}

// EvictOlderThan drops local chunks with index < index. Store copies expire
// on their own TTL.
func (b *ChunkBuffer) EvictOlderThan(index int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.minIndex < index && b.minIndex < b.nextIndex {
		delete(b.chunks, b.minIndex)
		b.minIndex++
	}
	if b.minIndex < index {
		b.minIndex = index
	}
}

// SyncLatest raises the live edge from the buffer_index recorded in the
// store. Followers call this while polling so their readers can chase chunks
// the owner wrote on another worker. The edge never moves backwards.
func (b *ChunkBuffer) SyncLatest(ctx context.Context) int64 {
	meta, err := b.store.HashGetAll(ctx, coordinator.MetadataKey(b.channelID))
	if err != nil {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.nextIndex - 1
	}

	remote, err := strconv.ParseInt(meta["buffer_index"], 10, 64)
	if err != nil {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.nextIndex - 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if remote >= b.nextIndex {
		b.nextIndex = remote + 1
		if b.minIndex > b.nextIndex {
			b.minIndex = b.nextIndex
		}
	}
	return b.nextIndex - 1
}

// Len reports how many chunks are held locally.
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}
