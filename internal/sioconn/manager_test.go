package sioconn

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/stream"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

// startServer runs a minimal Engine.IO v4 endpoint: open frame, namespace
// connect ack, then hands every further frame to handle. Returning false
// from handle closes the connection.
func startServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn, frame string) bool) (*httptest.Server, func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := httptest.NewUnstartedServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
			if err != nil {
				return
			}
			defer conn.Close(websocket.StatusNormalClosure, "bye")

			ctx := r.Context()
			open := `0{"sid":"test-sid","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`
			if err := conn.Write(ctx, websocket.MessageText, []byte(open)); err != nil {
				return
			}
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				frame := string(data)
				if frame == "40" {
					if err := conn.Write(ctx, websocket.MessageText, []byte(`40{"sid":"ns-sid"}`)); err != nil {
						return
					}
					continue
				}
				if handle == nil || !handle(ctx, conn, frame) {
					return
				}
			}
		}),
	)
	srv.Listener = ln
	srv.Start()
	return srv, srv.Close
}

func echoEvents(ctx context.Context, conn *websocket.Conn, frame string) bool {
	if strings.HasPrefix(frame, "42") {
		return conn.Write(ctx, websocket.MessageText, []byte(frame)) == nil
	}
	return true
}

func newTestManager(env vars.Env) (*Manager, *stream.Manager) {
	sessions := stream.NewManager()
	mgr := NewManager(sessions, vars.StaticProvider(env), zerolog.Nop(), Options{
		HandshakeTimeout: 2 * time.Second,
	})
	return mgr, sessions
}

func waitForMessage(t *testing.T, mgr *Manager, requestID string, match func(*stream.Message) bool) *stream.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, msg := range mgr.Messages(requestID) {
			if match(msg) {
				return msg
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for message, log: %+v", mgr.Messages(requestID))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBuildTargetURL(t *testing.T) {
	t.Parallel()

	def := &reqdef.Definition{
		URL: "https://{{host}}",
		Parameters: []reqdef.KeyValue{
			{Key: "token", Value: "{{token}}", Active: true},
		},
	}
	env := vars.Env{"host": "rt.example.com", "token": "s3cret"}

	got, err := BuildTargetURL(def, env)
	if err != nil {
		t.Fatalf("BuildTargetURL: %v", err)
	}
	if got != "wss://rt.example.com/socket.io/?EIO=4&token=s3cret&transport=websocket" {
		t.Fatalf("unexpected target %q", got)
	}

	custom, err := BuildTargetURL(&reqdef.Definition{URL: "http://localhost:3000/realtime"}, nil)
	if err != nil {
		t.Fatalf("BuildTargetURL custom path: %v", err)
	}
	if !strings.HasPrefix(custom, "ws://localhost:3000/realtime?") {
		t.Fatalf("custom path must be kept, got %q", custom)
	}
}

func TestConnectAndEmitEcho(t *testing.T) {
	srv, cleanup := startServer(t, echoEvents)
	defer cleanup()

	mgr, _ := newTestManager(vars.Env{"channel": "updates"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def := &reqdef.Definition{ID: "sio-1", URL: srv.URL}
	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := mgr.Status("sio-1"); got != stream.StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	waitForMessage(t, mgr, "sio-1", func(m *stream.Message) bool {
		return m.Direction == stream.DirSystem && strings.Contains(m.Content, "test-sid")
	})

	err := mgr.Emit(ctx, "sio-1", "{{channel}}", []EmitArg{
		{Content: "hello", Format: reqdef.FormatText},
	}, false)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	sent := waitForMessage(t, mgr, "sio-1", func(m *stream.Message) bool {
		return m.Direction == stream.DirSent
	})
	if sent.EventName != "updates" || sent.Content != "hello" {
		t.Fatalf("unexpected sent entry %+v", sent)
	}
	echo := waitForMessage(t, mgr, "sio-1", func(m *stream.Message) bool {
		return m.Direction == stream.DirReceived
	})
	if echo.EventName != "updates" || echo.Content != "hello" {
		t.Fatalf("unexpected received entry %+v", echo)
	}

	if err := mgr.Disconnect(ctx, "sio-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for mgr.Status("sio-1") != stream.StatusDisconnected {
		select {
		case <-deadline:
			t.Fatalf("expected disconnect, status %s", mgr.Status("sio-1"))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEmitMultiArgAndJSON(t *testing.T) {
	srv, cleanup := startServer(t, echoEvents)
	defer cleanup()

	mgr, _ := newTestManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def := &reqdef.Definition{ID: "sio-multi", URL: srv.URL}
	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect(ctx, "sio-multi")

	err := mgr.Emit(ctx, "sio-multi", "update", []EmitArg{
		{Content: "room-1", Format: reqdef.FormatText},
		{Content: `{ "count": 3 }`, Format: reqdef.FormatJSON},
	}, false)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	sent := waitForMessage(t, mgr, "sio-multi", func(m *stream.Message) bool {
		return m.Direction == stream.DirSent
	})
	if sent.Format != stream.FormatJSON {
		t.Fatalf("multi-arg entry should be json, got %s", sent.Format)
	}
	if !strings.Contains(sent.Content, "room-1") || !strings.Contains(sent.Content, "\"count\": 3") {
		t.Fatalf("multi-arg entry should serialize the argument array, got %q", sent.Content)
	}
}

func TestEmitValidation(t *testing.T) {
	srv, cleanup := startServer(t, echoEvents)
	defer cleanup()

	mgr, _ := newTestManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def := &reqdef.Definition{ID: "sio-bad", URL: srv.URL}
	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect(ctx, "sio-bad")

	before := len(mgr.Messages("sio-bad"))
	err := mgr.Emit(ctx, "sio-bad", "update", []EmitArg{
		{Content: `{"broken":`, Format: reqdef.FormatJSON},
	}, false)
	if !errdef.Is(err, errdef.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := len(mgr.Messages("sio-bad")); got != before {
		t.Fatalf("invalid argument must not be logged, log grew %d -> %d", before, got)
	}

	if err := mgr.Emit(ctx, "ghost", "update", nil, false); !errdef.Is(err, errdef.CodeValidation) {
		t.Fatalf("expected validation error for unconnected emit, got %v", err)
	}
}

func TestServerEventsAndAcks(t *testing.T) {
	srv, cleanup := startServer(t, func(ctx context.Context, conn *websocket.Conn, frame string) bool {
		if !strings.HasPrefix(frame, "42") {
			return true
		}
		// Respond with a named event, an unnamed one, and an ack when the
		// client asked for one.
		if err := conn.Write(ctx, websocket.MessageText, []byte(`42["status",{"state":"ok"}]`)); err != nil {
			return false
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`42["surprise","untracked"]`)); err != nil {
			return false
		}
		pkt, err := decodePacket(frame)
		if err == nil && pkt.HasAck {
			ack := Packet{Engine: engineMessage, Socket: socketAck, AckID: pkt.AckID, HasAck: true, Data: `["done"]`}
			if err := conn.Write(ctx, websocket.MessageText, []byte(ack.encode())); err != nil {
				return false
			}
		}
		return true
	})
	defer cleanup()

	mgr, _ := newTestManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def := &reqdef.Definition{
		ID:  "sio-events",
		URL: srv.URL,
		Events: []reqdef.SocketIOEvent{
			{ID: "e1", Name: "status", Listening: true},
		},
	}
	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect(ctx, "sio-events")

	if err := mgr.Emit(ctx, "sio-events", "probe", nil, true); err != nil {
		t.Fatalf("Emit with ack: %v", err)
	}

	status := waitForMessage(t, mgr, "sio-events", func(m *stream.Message) bool {
		return m.Direction == stream.DirReceived && m.EventName == "status"
	})
	if status.Format != stream.FormatJSON || !strings.Contains(status.Content, "\"state\": \"ok\"") {
		t.Fatalf("unexpected status entry %+v", status)
	}

	// The catch-all logs events outside the listening set exactly once.
	waitForMessage(t, mgr, "sio-events", func(m *stream.Message) bool {
		return m.Direction == stream.DirReceived && m.EventName == "surprise"
	})
	count := 0
	for _, m := range mgr.Messages("sio-events") {
		if m.EventName == "surprise" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("catch-all must not double-log, got %d entries", count)
	}

	waitForMessage(t, mgr, "sio-events", func(m *stream.Message) bool {
		return m.Direction == stream.DirSystem && strings.Contains(m.Content, "ack 1 received")
	})
}

func TestConnectReplacesExisting(t *testing.T) {
	srv, cleanup := startServer(t, echoEvents)
	defer cleanup()

	mgr, sessions := newTestManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	def := &reqdef.Definition{ID: "sio-redial", URL: srv.URL}
	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	first := sessions.Get("sio-redial", stream.KindSocketIO)

	if err := mgr.Connect(ctx, def); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if sessions.Get("sio-redial", stream.KindSocketIO) == first {
		t.Fatal("expected a fresh session after reconnect")
	}
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("displaced session was not closed")
	}
	mgr.Disconnect(ctx, "sio-redial")
}

func TestConnectDialFailure(t *testing.T) {
	mgr, _ := newTestManager(nil)
	mgr.opts.HandshakeTimeout = 500 * time.Millisecond

	def := &reqdef.Definition{ID: "sio-err", URL: "ws://127.0.0.1:1"}
	err := mgr.Connect(context.Background(), def)
	if !errdef.Is(err, errdef.CodeTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	// The failed session stays on the read surface with its error entry.
	if got := mgr.Status("sio-err"); got != stream.StatusError {
		t.Fatalf("expected error status after failure, got %s", got)
	}
	var sawError bool
	for _, msg := range mgr.Messages("sio-err") {
		if msg.Direction == stream.DirError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected a retained error entry")
	}
}
