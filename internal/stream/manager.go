package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luminetv/tsproxy/internal/buffer"
	"github.com/luminetv/tsproxy/internal/logger"
	"github.com/luminetv/tsproxy/internal/metrics"
)

// tsPacketSize is the fixed MPEG-TS packet size. Chunks are trimmed to this
// alignment so a packet is never split across two chunks.
const tsPacketSize = 188

// Config bounds the fetch loop.
type Config struct {
	ConnectionTimeout time.Duration
	StreamTimeout     time.Duration
	InitialBackoff    time.Duration
	MaxRetries        int
	ReadSize          int
}

// Manager owns exactly one upstream connection for one channel: it dials the
// current URL, reads bursts, trims them to TS packet alignment, and appends
// them to the shared chunk buffer. It reacts to URL switches by reconnecting
// at the next read boundary while the chunk index continues monotonically.
//
// Only the channel owner runs a Manager; followers never construct one.
// The fetch loop is the buffer's sole writer.
type Manager struct {
	channelID string
	buf       *buffer.ChunkBuffer
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	client    *http.Client

	// onState persists state transitions (metadata hash, events). Must be
	// cheap; the fetch loop calls it inline.
	onState func(State)

	mu         sync.Mutex
	url        string
	userAgent  string
	transcode  []string
	generation uint64
	cancelConn context.CancelFunc

	state     atomic.Value // State
	connected atomic.Bool
	lastByte  atomic.Int64 // unix nanos of the last upstream payload
	failures  atomic.Int32 // consecutive connect failures

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager creates a manager for one channel. onState may be nil.
func NewManager(channelID, url, userAgent string, transcode []string, buf *buffer.ChunkBuffer, cfg Config, m *metrics.Metrics, log *logger.Logger, onState func(State)) *Manager {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 32 * 1024
	}
	mgr := &Manager{
		channelID: channelID,
		buf:       buf,
		cfg:       cfg,
		logger:    log.WithComponent("stream").WithChannel(channelID),
		metrics:   m,
		onState:   onState,
		url:       url,
		userAgent: userAgent,
		transcode: transcode,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectionTimeout,
				}).DialContext,
				ResponseHeaderTimeout: cfg.ConnectionTimeout,
				DisableCompression:    true,
			},
		},
	}
	mgr.state.Store(StateConnecting)
	return mgr
}

// Start launches the fetch loop.
func (m *Manager) Start() {
	go m.run()
}

// Stop signals the fetch loop to exit and interrupts any in-flight read.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		if m.cancelConn != nil {
			m.cancelConn()
		}
		m.mu.Unlock()
	})
}

// Done is closed when the fetch loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// State returns the manager's current state.
func (m *Manager) State() State {
	return m.state.Load().(State)
}

// Connected reports whether upstream has delivered at least one payload
// byte this session.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Healthy reports whether upstream produced bytes within the stream
// timeout. Client handlers use this to decide between keep-alives and
// giving up.
func (m *Manager) Healthy() bool {
	if !m.connected.Load() {
		return false
	}
	last := m.lastByte.Load()
	return last > 0 && time.Since(time.Unix(0, last)) < m.cfg.StreamTimeout
}

// ShouldRetry is false once consecutive connect failures reached the cap.
func (m *Manager) ShouldRetry() bool {
	return int(m.failures.Load()) < m.cfg.MaxRetries
}

// CurrentURL returns the URL the fetch loop is (re)connecting to.
func (m *Manager) CurrentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// UpdateURL atomically swaps the upstream target. The running fetch loop
// observes the change at the next read boundary: the in-flight connection is
// cancelled, the chunk index keeps counting, and the loop reconnects with
// the new URL. Returns false when nothing changed.
func (m *Manager) UpdateURL(newURL, newUserAgent string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newUserAgent == "" {
		newUserAgent = m.userAgent
	}
	if newURL == m.url && newUserAgent == m.userAgent {
		return false
	}

	m.url = newURL
	m.userAgent = newUserAgent
	m.generation++
	if m.cancelConn != nil {
		m.cancelConn()
	}

	m.setState(StateSwitching)
	m.failures.Store(0)
	if m.metrics != nil {
		m.metrics.URLSwitches.WithLabelValues(m.channelID).Inc()
	}
	m.logger.Info("upstream url updated", slog.String("url", newURL))
	return true
}

func (m *Manager) setState(s State) {
	prev := m.state.Swap(s)
	if prev == s {
		return
	}
	m.logger.Info("stream state changed",
		slog.String("from", string(prev.(State))),
		slog.String("to", string(s)))
	if m.onState != nil {
		m.onState(s)
	}
}

// snapshot returns the target under the lock together with a cancellable
// context registered as the in-flight connection.
func (m *Manager) snapshot() (gen uint64, url, ua string, transcode []string, ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connCtx, cancel := context.WithCancel(context.Background())
	m.cancelConn = cancel
	return m.generation, m.url, m.userAgent, m.transcode, connCtx
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// run is the fetch loop. One iteration is one upstream session: connect,
// read until the session ends, decide whether to retry, switch or stop.
func (m *Manager) run() {
	defer close(m.doneCh)

	backoff := NewBackoffStrategy(m.cfg.InitialBackoff, m.cfg.StreamTimeout)
	stopCtx, stopCancel := context.WithCancel(context.Background())
	defer stopCancel()
	go func() {
		select {
		case <-m.stopCh:
			stopCancel()
		case <-m.doneCh:
		}
	}()

	for {
		if m.stopping() {
			m.setState(StateStopped)
			return
		}

		gen, url, ua, transcode, connCtx := m.snapshot()

		m.setState(StateConnecting)
		src, err := m.open(connCtx, url, ua, transcode)
		if err != nil {
			if m.stopping() {
				m.setState(StateStopped)
				return
			}
			if m.currentGeneration() != gen {
				// Switched while dialing; reconnect immediately.
				continue
			}

			failures := m.failures.Add(1)
			if m.metrics != nil {
				m.metrics.UpstreamRetries.WithLabelValues(m.channelID).Inc()
			}
			if int(failures) >= m.cfg.MaxRetries {
				m.logger.Error("upstream retries exhausted",
					slog.Int("failures", int(failures)),
					slog.String("error", err.Error()))
				m.setState(StateError)
				return
			}
			m.logger.Warn("upstream connect failed",
				slog.Int("attempt", int(failures)),
				slog.String("error", err.Error()))
			backoff.Sleep(stopCtx)
			continue
		}

		m.setState(StateWaitingForClients)
		reason := m.readSession(gen, src)
		src.Close()

		switch reason {
		case sessionStopped:
			m.setState(StateStopped)
			return
		case sessionSwitched:
			// State already switching; reconnect without backoff.
			backoff.Reset()
		case sessionEnded:
			if m.stopping() {
				m.setState(StateStopped)
				return
			}
			backoff.Sleep(stopCtx)
		}
	}
}

type sessionResult int

const (
	sessionEnded sessionResult = iota
	sessionSwitched
	sessionStopped
)

// readSession drains one upstream connection into the buffer. It returns
// when the source ends or errors, when a URL switch invalidates this
// session's generation, or when the manager stops.
func (m *Manager) readSession(gen uint64, src io.Reader) sessionResult {
	readBuf := make([]byte, m.cfg.ReadSize)
	carry := make([]byte, 0, tsPacketSize)
	ctx := context.Background()

	for {
		if m.stopping() {
			return sessionStopped
		}
		if m.currentGeneration() != gen {
			return sessionSwitched
		}

		n, err := src.Read(readBuf)
		if n > 0 {
			m.lastByte.Store(time.Now().UnixNano())
			if !m.connected.Load() {
				m.connected.Store(true)
			}
			m.failures.Store(0)
			m.setState(StateActive)
			carry = m.append(ctx, carry, readBuf[:n])
		}
		if err != nil {
			if m.stopping() {
				return sessionStopped
			}
			if m.currentGeneration() != gen {
				return sessionSwitched
			}
			if len(carry) > 0 {
				// A trailing partial TS packet is dropped rather than
				// emitted split; the reconnect is a discontinuity anyway.
				m.logger.Debug("dropping partial packet at session end",
					slog.Int("bytes", len(carry)))
			}
			if errors.Is(err, io.EOF) {
				m.logger.Info("upstream stream ended")
			} else {
				m.logger.Warn("upstream read error", slog.String("error", err.Error()))
			}
			return sessionEnded
		}
	}
}

// append merges the carry-over with the new burst, emits the packet-aligned
// prefix as one chunk and returns the new remainder.
func (m *Manager) append(ctx context.Context, carry, data []byte) []byte {
	merged := data
	if len(carry) > 0 {
		merged = append(carry, data...)
	}

	cut := len(merged) - len(merged)%tsPacketSize
	if cut == 0 {
		return append(carry[:0:0], merged...)
	}

	m.buf.Append(ctx, merged[:cut])
	if m.metrics != nil {
		m.metrics.ChunksAppended.WithLabelValues(m.channelID).Inc()
	}
	return append(carry[:0:0], merged[cut:]...)
}

// open establishes the byte source for one session: either the upstream
// HTTP body or, when a transcode command is configured, the stdout of the
// spawned process.
func (m *Manager) open(ctx context.Context, url, userAgent string, transcode []string) (io.ReadCloser, error) {
	if len(transcode) > 0 {
		return m.openTranscode(ctx, url, userAgent, transcode)
	}
	return m.openUpstream(ctx, url, userAgent)
}

func (m *Manager) openUpstream(ctx context.Context, url, userAgent string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
