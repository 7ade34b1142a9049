package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/pollstore"
	"github.com/nekolive/signaling-relay/internal/relay"
)

func baseConfig() config.Config {
	return config.Config{
		MaxRoomNameLength:        config.DefaultMaxRoomNameLength,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
		SendQueueBytes:           config.DefaultSendQueueBytes,
		SignalingWSWriteTimeout:  time.Second,
		SignalingWSPingInterval:  time.Hour,
		RateLimitWindow:          time.Minute,
		PollBufferCapacity:       config.DefaultPollBufferCapacity,
		PollRoomIdleTTL:          time.Minute,
	}
}

type testEnv struct {
	srv     *Server
	manager *relay.Manager
	metrics *metrics.Metrics
	ts      *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	m := metrics.New()
	manager := relay.NewManager(cfg, nil, nil, m)
	store := pollstore.New(pollstore.Options{
		Capacity: cfg.PollBufferCapacity,
		IdleTTL:  cfg.PollRoomIdleTTL,
		Metrics:  m,
	})
	srv := New(cfg, manager, store, nil)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, manager: manager, metrics: m, ts: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readClose reads until the server closes the socket and returns the close
// frame it sent.
func readClose(t *testing.T, c *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("read err=%v, want close frame", err)
		}
		return ce
	}
}

func readText(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type=%d, want text", typ)
	}
	return data
}

func writeText(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}
