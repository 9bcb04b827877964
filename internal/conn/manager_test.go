package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Arena/internal/metrics"
	"github.com/park285/Cheese-Arena/internal/protocol"
)

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	headers  []http.Header
	accepted atomic.Int32
	// dropFirst closes the first accepted connection right away.
	dropFirst bool
}

func newTestServer(t *testing.T, dropFirst bool) *testServer {
	t.Helper()
	ts := &testServer{dropFirst: dropFirst}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.headers = append(ts.headers, r.Header.Clone())
		ts.mu.Unlock()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := ts.accepted.Add(1)
		if ts.dropFirst && n == 1 {
			_ = c.Close(websocket.StatusGoingAway, "bye")
			return
		}
		ctx := r.Context()
		_ = wsjson.Write(ctx, c, map[string]any{"type": "welcome", "client_id": "srv"})
		for {
			var v map[string]any
			if err := wsjson.Read(ctx, c, &v); err != nil {
				return
			}
			v["echo"] = true
			if err := wsjson.Write(ctx, c, v); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string { return "ws" + strings.TrimPrefix(ts.URL, "http") }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSendReceive(t *testing.T) {
	ts := newTestServer(t, false)
	m := New(Options{URL: ts.wsURL(), ClientID: "client-1"})
	m.SetAuthToken("opaque-token")

	var mu sync.Mutex
	var frames []string
	m.OnMessage(func(raw []byte) {
		mu.Lock()
		frames = append(frames, string(raw))
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Close(context.Background())

	if m.Status() != StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}
	if !m.Send(protocol.SyncGame("s1")) {
		t.Fatalf("send failed while connected")
	}
	waitFor(t, "echo", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	})
	mu.Lock()
	if !strings.Contains(frames[0], `"welcome"`) || !strings.Contains(frames[1], `"sync_game"`) {
		t.Fatalf("unexpected frames %v", frames)
	}
	mu.Unlock()

	ts.mu.Lock()
	hdr := ts.headers[0]
	ts.mu.Unlock()
	if hdr.Get("Authorization") != "Bearer opaque-token" || hdr.Get("X-Client-Id") != "client-1" {
		t.Fatalf("handshake headers = %v", hdr)
	}
}

func TestSendWhileDisconnectedIsRecorded(t *testing.T) {
	m := New(Options{URL: "ws://127.0.0.1:1/none"})
	for i := 0; i < 40; i++ {
		if m.Send(protocol.CancelSearch()) {
			t.Fatalf("send succeeded without a connection")
		}
	}
	failures := m.RecentSendFailures()
	if len(failures) != failureRingSize {
		t.Fatalf("ring holds %d entries", len(failures))
	}
	if failures[0].Kind != string(protocol.KindCancelSearch) {
		t.Fatalf("kind not captured: %+v", failures[0])
	}
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	ts := newTestServer(t, true)
	m := New(Options{URL: ts.wsURL(), MaxReconnect: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})

	var mu sync.Mutex
	var seen []Status
	m.OnStatusChange(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Close(context.Background())

	waitFor(t, "second connection", func() bool { return ts.accepted.Load() >= 2 && m.Status() == StatusConnected })
	mu.Lock()
	defer mu.Unlock()
	sawReconnecting := false
	for _, s := range seen {
		if s == StatusReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Fatalf("statuses %v never reported reconnecting", seen)
	}
}

func TestDisconnectThenConnectAgain(t *testing.T) {
	ts := newTestServer(t, false)
	m := New(Options{URL: ts.wsURL(), MaxReconnect: 3, InitialBackoff: 10 * time.Millisecond})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Disconnect()
	if m.Status() != StatusDisconnected {
		t.Fatalf("status after disconnect = %s", m.Status())
	}
	time.Sleep(50 * time.Millisecond)
	if ts.accepted.Load() != 1 {
		t.Fatalf("manual disconnect triggered a reconnect")
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	defer m.Close(context.Background())
	if m.Status() != StatusConnected {
		t.Fatalf("status = %s", m.Status())
	}
}

func statusGauge(t *testing.T, status Status) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.ConnectionStatus.WithLabelValues(string(status)).Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestStatusGaugeFollowsManager(t *testing.T) {
	ts := newTestServer(t, false)
	m := New(Options{URL: ts.wsURL()})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if statusGauge(t, StatusConnected) != 1 {
		t.Fatalf("connected gauge not set")
	}
	m.Disconnect()
	if statusGauge(t, StatusConnected) != 0 || statusGauge(t, StatusDisconnected) != 1 {
		t.Fatalf("gauge did not follow disconnect")
	}
}
