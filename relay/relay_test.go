package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/shadow/dbopen"
	"github.com/hazyhaar/shadow/shield"
)

func startRelay(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server, room string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + room
}

func dial(t *testing.T, ts *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, room), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", room, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitMembers(t *testing.T, s *Server, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Hub().Members(room) != n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s: got %d members, want %d", room, s.Hub().Members(room), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return typ, string(data)
}

func TestFanOutWithinRoom(t *testing.T) {
	s, ts := startRelay(t, Config{})
	a := dial(t, ts, "demo")
	b := dial(t, ts, "demo")
	c := dial(t, ts, "demo")
	other := dial(t, ts, "other")
	waitMembers(t, s, "demo", 3)
	waitMembers(t, s, "other", 1)

	if err := a.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	for name, conn := range map[string]*websocket.Conn{"b": b, "c": c} {
		if typ, got := read(t, conn); typ != websocket.TextMessage || got != "hello" {
			t.Fatalf("%s: got (%d, %q), want text hello", name, typ, got)
		}
	}

	// The sender never hears its own message: the next frame it reads is b's.
	if err := b.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if typ, got := read(t, a); typ != websocket.BinaryMessage || got != "\x01\x02\x03" {
		t.Fatalf("a: got (%d, %q), want binary 010203", typ, got)
	}

	// Nothing crossed into the other room.
	if err := other.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("other room received a message")
	}
}

func TestOrderPreserved(t *testing.T) {
	s, ts := startRelay(t, Config{})
	a := dial(t, ts, "order")
	b := dial(t, ts, "order")
	waitMembers(t, s, "order", 2)

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			a.WriteMessage(websocket.TextMessage, []byte{byte('0' + i%10)})
		}
	}()
	for i := 0; i < n; i++ {
		if _, got := read(t, b); got != string(rune('0'+i%10)) {
			t.Fatalf("message %d: got %q", i, got)
		}
	}
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	s, ts := startRelay(t, Config{})
	a := dial(t, ts, "gone")
	waitMembers(t, s, "gone", 1)

	a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.Close()
	waitMembers(t, s, "gone", 0)
	if rooms := s.Hub().Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms: got %v, want none", rooms)
	}
}

func TestRoomsAndHealth(t *testing.T) {
	s, ts := startRelay(t, Config{})
	dial(t, ts, "b-room")
	dial(t, ts, "a-room")
	dial(t, ts, "a-room")
	waitMembers(t, s, "a-room", 2)
	waitMembers(t, s, "b-room", 1)

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	want := `[{"room":"a-room","members":2},{"room":"b-room","members":1}]`
	if strings.TrimSpace(string(body)) != want {
		t.Fatalf("rooms: got %s, want %s", body, want)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Trace-ID") == "" {
		t.Fatalf("shield headers missing: %v", resp.Header)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := startRelay(t, Config{})
	a := dial(t, ts, "m")
	b := dial(t, ts, "m")
	waitMembers(t, s, "m", 2)
	a.WriteMessage(websocket.TextMessage, []byte("x"))
	read(t, b)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"shadow_relay_messages_total", "shadow_relay_connections", "shadow_relay_bytes_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics: %s missing", name)
		}
	}
}

func TestInvalidRoom(t *testing.T) {
	s := New(Config{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/ws/bad!room", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
}

func TestValidRoom(t *testing.T) {
	for _, name := range []string{"demo", "A-1_b.c", strings.Repeat("x", 128)} {
		if err := validRoom(name); err != nil {
			t.Errorf("validRoom(%q): %v", name, err)
		}
	}
	for _, name := range []string{"", "a b", "a/b", strings.Repeat("x", 129)} {
		if err := validRoom(name); err == nil {
			t.Errorf("validRoom(%q): want error", name)
		}
	}
}

func TestJoinLimit(t *testing.T) {
	_, ts := startRelay(t, Config{JoinLimit: shield.RateLimitConfig{MaxRequests: 1, Window: time.Minute}})
	dial(t, ts, "lim")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "lim"), nil)
	if err == nil {
		t.Fatal("second join: want error")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second join: got %v, want 429", resp)
	}
}

// serverConns upgrades each request and hands the server side to the test.
func serverConns(t *testing.T) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts, conns
}

func TestSlowConsumerDisconnected(t *testing.T) {
	ts, conns := serverConns(t)
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	sender, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	h := NewHub()
	slow := newClient(<-conns, 1)
	slow.room = "r"
	from := newClient(<-conns, 1)
	from.room = "r"
	h.join(slow)
	h.join(from)
	defer h.leave(slow)
	defer h.leave(from)

	if n := h.broadcast(from, frame{typ: websocket.TextMessage, data: []byte("1")}); n != 1 {
		t.Fatalf("first broadcast: delivered %d, want 1", n)
	}
	if n := h.broadcast(from, frame{typ: websocket.TextMessage, data: []byte("2")}); n != 0 {
		t.Fatalf("second broadcast: delivered %d, want 0", n)
	}
	if got := slow.closeReason(); got != ReasonSlow {
		t.Fatalf("reason: got %q, want %q", got, ReasonSlow)
	}

	// Whichever client got the slow side sees a policy-violation close.
	for _, c := range []*websocket.Conn{peer, sender} {
		c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, _, err := c.ReadMessage(); websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return
		}
	}
	t.Fatal("no client saw the policy-violation close")
}

func TestAuditRecordsMembership(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	audit := NewAudit(db, 16, nil)
	s, ts := startRelay(t, Config{Audit: audit})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "aud")+"?role=viewer", nil)
	if err != nil {
		t.Fatal(err)
	}
	waitMembers(t, s, "aud", 1)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitMembers(t, s, "aud", 0)

	if err := audit.Close(); err != nil {
		t.Fatal(err)
	}
	events, err := audit.Query(context.Background(), Filter{Room: "aud"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	byKind := map[string]Event{}
	for _, e := range events {
		byKind[e.Event] = e
	}
	join, leave := byKind[EventJoin], byKind[EventLeave]
	if join.ConnID == "" || join.ConnID != leave.ConnID {
		t.Fatalf("conn ids: join %q leave %q", join.ConnID, leave.ConnID)
	}
	if join.Role != "viewer" || join.TraceID == "" || join.RemoteAddr == "" {
		t.Fatalf("join event: %+v", join)
	}
	if leave.Detail != ReasonClosed {
		t.Fatalf("leave detail: got %q, want %q", leave.Detail, ReasonClosed)
	}

	only, err := audit.Query(context.Background(), Filter{Event: EventLeave, Limit: 5})
	if err != nil || len(only) != 1 {
		t.Fatalf("filtered query: %v %v", only, err)
	}
}

func TestOpenAudit(t *testing.T) {
	path := t.TempDir() + "/sub/relay.db"
	a, err := OpenAudit(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.Record(&Event{Room: "r", ConnID: "c", Event: EventJoin})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM relay_events`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("rows: got %d (%v), want 1", n, err)
	}
}
