package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/luminetv/tsproxy/internal/catalog"
	"github.com/luminetv/tsproxy/internal/channel"
	"github.com/luminetv/tsproxy/internal/config"
	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/events"
	"github.com/luminetv/tsproxy/internal/logger"
	"github.com/luminetv/tsproxy/internal/metrics"
)

// fakeBus delivers events synchronously in-process.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string][]events.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string][]events.Handler)}
}

func (b *fakeBus) Publish(_ context.Context, ev events.Event) error {
	b.mu.Lock()
	handlers := append([]events.Handler(nil), b.subs[ev.Channel]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *fakeBus) Subscribe(ch string, handler events.Handler) (events.Subscription, error) {
	b.mu.Lock()
	b.subs[ch] = append(b.subs[ch], handler)
	b.mu.Unlock()
	return fakeSub{}, nil
}

func (b *fakeBus) Close() error { return nil }

type fakeSub struct{}

func (fakeSub) Unsubscribe() error { return nil }

var testMetrics = metrics.New()

func testConfig() *config.Config {
	return &config.Config{
		StoreTimeout:            time.Second,
		StoreRetries:            1,
		ChunkTTL:                time.Minute,
		MaxLocalChunks:          64,
		ChunkReadSize:           32 * 1024,
		MaxChunksPerRead:        20,
		TargetFlushBytes:        1 << 20,
		MaxFlushBytes:           2 << 20,
		OwnerLockTTL:            time.Second,
		ConnectionTimeout:       time.Second,
		StreamTimeout:           5 * time.Second,
		MaxRetries:              3,
		InitialBackoff:          5 * time.Millisecond,
		UserAgent:               "test-agent/1.0",
		ClientWaitTimeout:       2 * time.Second,
		InitialBehindChunks:     5,
		KeepaliveInterval:       20 * time.Millisecond,
		ClientKeepaliveInterval: 50 * time.Millisecond,
		ClientCleanupInterval:   time.Minute,
		ChannelShutdownDelay:    100 * time.Millisecond,
		ChannelInitGracePeriod:  200 * time.Millisecond,
		ChannelMetadataTTL:      time.Minute,
	}
}

// testStack wires config, store, bus, catalog and lifecycle behind a router,
// the same shape the server binary builds.
type testStack struct {
	cfg       *config.Config
	lifecycle *channel.Lifecycle
	router    *gin.Engine
}

func newTestStack(t *testing.T, upstreamURL string) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	path := filepath.Join(t.TempDir(), "channels.yaml")
	content := fmt.Sprintf("channels:\n  news:\n    url: %s\n", upstreamURL)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	cfg := testConfig()
	lifecycle := channel.NewLifecycle(cfg, store, newFakeBus(), cat, testMetrics, log)
	t.Cleanup(func() { lifecycle.Shutdown(context.Background()) })

	router := gin.New()
	router.GET("/healthz", HealthHandler())
	router.GET("/stream/:channel", StreamHandler(cfg, lifecycle, testMetrics, log))
	router.POST("/change_stream/:channel", ChangeStreamHandler(lifecycle, log))
	status := router.Group("/status")
	{
		status.GET("/", StatusAllHandler(lifecycle, log))
		status.GET("/:channel", StatusOneHandler(lifecycle, log))
	}

	return &testStack{cfg: cfg, lifecycle: lifecycle, router: router}
}

// tsUpstream streams endless TS packets until the client disconnects.
func tsUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		p := make([]byte, 188)
		p[0] = 0x47
		p[1] = 0xC8
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(p); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(2 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	stack := newTestStack(t, "http://unused.example/live.ts")

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestStreamUnknownChannel(t *testing.T) {
	stack := newTestStack(t, "http://unused.example/live.ts")

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/stream/no-such-channel", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStreamDeliversPackets(t *testing.T) {
	upstream := tsUpstream(t)
	stack := newTestStack(t, upstream.URL)

	srv := httptest.NewServer(stack.router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stream/news")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("expected video/mp2t, got %q", ct)
	}

	buf := make([]byte, 188*4)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("failed to read stream body: %v", err)
	}
	for off := 0; off < len(buf); off += 188 {
		if buf[off] != 0x47 {
			t.Fatalf("no sync byte at packet boundary %d", off)
		}
	}
}

func TestStreamKeepaliveWhileUpstreamSilent(t *testing.T) {
	// Upstream connects but never sends a byte; clients should receive null
	// packets instead of a silent socket.
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(silent.Close)

	stack := newTestStack(t, silent.URL)
	srv := httptest.NewServer(stack.router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stream/news")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	packet := make([]byte, 188)
	if _, err := io.ReadFull(resp.Body, packet); err != nil {
		t.Fatalf("failed to read keepalive packet: %v", err)
	}
	if packet[0] != 0x47 || packet[1] != 0x1F || packet[2] != 0xFF {
		t.Fatalf("expected a null packet header, got % x", packet[:3])
	}
	for _, b := range packet[3:] {
		if b != 0 {
			t.Fatal("null packet payload must be zero")
		}
	}
}

func TestChangeStreamValidation(t *testing.T) {
	upstream := tsUpstream(t)
	stack := newTestStack(t, upstream.URL)

	// Missing url.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/change_stream/news", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	stack.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing url, got %d", w.Code)
	}

	// Unknown channel.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/change_stream/no-such-channel",
		strings.NewReader(`{"url":"http://new.example/live.ts"}`))
	req.Header.Set("Content-Type", "application/json")
	stack.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown channel, got %d", w.Code)
	}
}

func TestChangeStreamSwitchesOwnedChannel(t *testing.T) {
	upstreamA := tsUpstream(t)
	upstreamB := tsUpstream(t)
	stack := newTestStack(t, upstreamA.URL)
	ctx := context.Background()

	ch, err := stack.lifecycle.EnsureChannel(ctx, "news")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := stack.lifecycle.WaitServable(ctx, ch, 2*time.Second); err != nil {
		t.Fatalf("channel never became servable: %v", err)
	}

	w := httptest.NewRecorder()
	body := fmt.Sprintf(`{"url":%q}`, upstreamB.URL)
	req := httptest.NewRequest("POST", "/change_stream/news", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	stack.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got struct {
		Owner    bool   `json:"owner"`
		URL      string `json:"url"`
		WorkerID string `json:"worker_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !got.Owner {
		t.Error("switch on the owning worker should report owner=true")
	}
	if got.URL != upstreamB.URL {
		t.Errorf("response url mismatch: %q", got.URL)
	}
	if got.WorkerID != stack.lifecycle.WorkerID() {
		t.Errorf("worker id mismatch: %q", got.WorkerID)
	}
}

func TestStatusEndpoints(t *testing.T) {
	upstream := tsUpstream(t)
	stack := newTestStack(t, upstream.URL)
	ctx := context.Background()

	ch, err := stack.lifecycle.EnsureChannel(ctx, "news")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := stack.lifecycle.WaitServable(ctx, ch, 2*time.Second); err != nil {
		t.Fatalf("channel never became servable: %v", err)
	}

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/status/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Count    int              `json:"count"`
		Channels []channel.Status `json:"channels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if list.Count != 1 || len(list.Channels) != 1 {
		t.Fatalf("expected one channel, got %+v", list)
	}
	if list.Channels[0].Channel != "news" {
		t.Errorf("unexpected channel: %q", list.Channels[0].Channel)
	}

	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/status/news", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st channel.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !st.LocalOwner {
		t.Error("status should mark this worker as owner")
	}

	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/status/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
