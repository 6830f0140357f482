package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

type testServer struct {
	hub *Hub
	srv *httptest.Server
}

// verifyNoLeaks checks for stray goroutines after every later cleanup, so the
// hub, the test server and the dialed sockets are closed first.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
}

func newTestServer(t *testing.T, hub *Hub) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, err := hub.Register(r.URL.Query().Get("user"), ws)
		if err != nil {
			return
		}
		hub.Serve(c)
	}))
	ts := &testServer{hub: hub, srv: srv}
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close frame %d, got %v", code, err)
		}
		if closeErr.Code != code {
			t.Fatalf("expected close code %d, got %d (%s)", code, closeErr.Code, closeErr.Text)
		}
		return
	}
}

func TestConnectSendsWelcomeAndPong(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, NewHub(5))
	ws := ts.dial(t, "u1")

	ev := readEvent(t, ws)
	data, _ := ev.Data.(map[string]any)
	if ev.Type != EventConnectionEstablished || data["message"] != "Neural Link synchronized." || data["user_id"] != "u1" {
		t.Fatalf("unexpected welcome: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("events must carry a timestamp")
	}

	if err := ws.WriteJSON(map[string]any{"type": "ping", "timestamp": 42}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong := readEvent(t, ws)
	data, _ = pong.Data.(map[string]any)
	if pong.Type != EventPong || data["timestamp"] != float64(42) {
		t.Fatalf("unexpected pong: %+v", pong)
	}

	ws.Close()
	waitFor(t, func() bool { return ts.hub.ConnectionCount() == 0 })
}

func TestCapEvictsOldestConnection(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, NewHub(2))

	first := ts.dial(t, "u1")
	readEvent(t, first)
	second := ts.dial(t, "u1")
	readEvent(t, second)
	third := ts.dial(t, "u1")
	readEvent(t, third)

	expectClose(t, first, websocket.ClosePolicyViolation)
	waitFor(t, func() bool { return ts.hub.ConnectionCount() == 2 })

	if n := ts.hub.Notify("u1", EventSystemNotification, map[string]any{"text": "hi"}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	for _, ws := range []*websocket.Conn{second, third} {
		if ev := readEvent(t, ws); ev.Type != EventSystemNotification {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestHeartbeatTimeoutCloses(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, NewHub(5).WithHeartbeat(100*time.Millisecond))
	ws := ts.dial(t, "u1")
	readEvent(t, ws)

	expectClose(t, ws, websocket.CloseGoingAway)
	waitFor(t, func() bool { return !ts.hub.IsConnected("u1") })
}

func TestNotifyIsScopedAndBroadcastReachesAll(t *testing.T) {
	verifyNoLeaks(t)
	ts := newTestServer(t, NewHub(5))
	a := ts.dial(t, "alice")
	readEvent(t, a)
	b := ts.dial(t, "bob")
	readEvent(t, b)
	waitFor(t, func() bool { return ts.hub.UserCount() == 2 })

	if n := ts.hub.Notify("alice", EventLocationUpdate, map[string]any{"soul_id": "kira"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if ev := readEvent(t, a); ev.Type != EventLocationUpdate {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if n := ts.hub.Notify("nobody", EventLocationUpdate, nil); n != 0 {
		t.Fatalf("unknown user must receive nothing, got %d", n)
	}

	if n := ts.hub.Broadcast(EventTimeAdvance, map[string]any{"new_time_slot": "night"}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if ev := readEvent(t, b); ev.Type != EventTimeAdvance {
		t.Fatalf("bob must only see the broadcast, got %+v", ev)
	}
	if ev := readEvent(t, a); ev.Type != EventTimeAdvance {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestCloseShutsDownClients(t *testing.T) {
	verifyNoLeaks(t)
	hub := NewHub(5)
	ts := newTestServer(t, hub)
	ws := ts.dial(t, "u1")
	readEvent(t, ws)

	hub.Close()
	expectClose(t, ws, websocket.CloseGoingAway)
	if _, err := hub.Register("u2", nil); err == nil {
		t.Fatalf("closed hub must refuse registrations")
	}
}

func TestEventEnvelope(t *testing.T) {
	hub := NewHub(1)
	hub.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	var ev map[string]any
	if err := json.Unmarshal(hub.encode(EventTierChange, map[string]any{"new_tier": "TRUSTED"}), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev["type"] != EventTierChange || ev["timestamp"] != "2026-10-19T09:00:00Z" {
		t.Fatalf("unexpected envelope: %v", ev)
	}
}
