package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/transport"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server running handler for each
// accepted connection. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDialSendsIdentityHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		_, _, _ = conn.Read(context.Background())
	})

	d := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{
		AccessToken:     "secret",
		DeviceID:        "04:68:74:27:12:c8",
		ClientID:        "c0ffee",
		ProtocolVersion: 1,
	}, transport.WithKeepalive(0))
	conn, err := d.Dial(testCtx(t))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	h := <-headers
	want := map[string]string{
		"Authorization":    "Bearer secret",
		"Protocol-Version": "1",
		"Device-Id":        "04:68:74:27:12:c8",
		"Client-Id":        "c0ffee",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
}

func TestTextAndBinaryBothWays(t *testing.T) {
	t.Parallel()

	type frame struct {
		typ  websocket.MessageType
		data string
	}
	received := make(chan frame, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		for range 2 {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received <- frame{typ, string(data)}
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
		_, _, _ = conn.Read(ctx)
	})

	ctx := testCtx(t)
	conn, err := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{}).Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.SendText(ctx, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := conn.SendBinary(ctx, []byte{9, 9}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	if f := <-received; f.typ != websocket.MessageText {
		t.Errorf("first frame type = %v, want text", f.typ)
	}
	if f := <-received; f.typ != websocket.MessageBinary || f.data != "\x09\x09" {
		t.Errorf("second frame = %+v", f)
	}

	m := <-conn.Messages()
	if m.Kind != transport.KindText || string(m.Data) != `{"type":"hello"}` {
		t.Errorf("first inbound = %v %q", m.Kind, m.Data)
	}
	m = <-conn.Messages()
	if m.Kind != transport.KindBinary || len(m.Data) != 3 {
		t.Errorf("second inbound = %v %v", m.Kind, m.Data)
	}
}

func TestSendAfterCloseFailsFast(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.Read(context.Background())
	})
	ctx := testCtx(t)
	conn, err := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{}).Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !conn.Connected() {
		t.Fatal("Connected() = false after Dial")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := conn.SendBinary(ctx, []byte{1}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("SendBinary after Close = %v, want ErrNotConnected", err)
	}
	if err := conn.SendText(ctx, []byte("{}")); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("SendText after Close = %v, want ErrNotConnected", err)
	}
	for range conn.Messages() {
	}
	if conn.Err() != nil {
		t.Errorf("Err() after local close = %v, want nil", conn.Err())
	}
}

func TestRemoteCloseEndsStream(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Close(websocket.StatusGoingAway, "server restarting")
	})
	conn, err := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{}).Dial(testCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case _, ok := <-conn.Messages():
		if ok {
			t.Fatal("unexpected inbound message")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream not closed after remote close")
	}
	if conn.Connected() {
		t.Error("Connected() = true after remote close")
	}
	if conn.Err() == nil {
		t.Error("Err() = nil after remote close")
	}
	if err := conn.SendBinary(context.Background(), []byte{1}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("SendBinary = %v, want ErrNotConnected", err)
	}
}

func TestRemoteCloseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		code       websocket.StatusCode
		wantNormal bool
	}{
		{name: "normal closure", code: websocket.StatusNormalClosure, wantNormal: true},
		{name: "going away", code: websocket.StatusGoingAway, wantNormal: false},
		{name: "internal error", code: websocket.StatusInternalError, wantNormal: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
				conn.Close(tt.code, "bye")
			})
			conn, err := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{}).Dial(testCtx(t))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = conn.Close() })

			for range conn.Messages() {
			}
			if got := transport.NormalClosure(conn.Err()); got != tt.wantNormal {
				t.Errorf("NormalClosure(%v) = %v, want %v", conn.Err(), got, tt.wantNormal)
			}
		})
	}
	if transport.NormalClosure(nil) {
		t.Error("NormalClosure(nil) = true")
	}
}

func TestDialFailureOpensCircuit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	d := transport.NewWebSocketDialer(wsURL(srv), transport.Identity{},
		transport.WithCircuitBreaker(2, time.Minute))
	ctx := testCtx(t)
	for i := range 2 {
		if _, err := d.Dial(ctx); err == nil || errors.Is(err, transport.ErrCircuitOpen) {
			t.Fatalf("dial %d: got %v, want handshake failure", i, err)
		}
	}
	if !d.CircuitOpen() {
		t.Fatal("CircuitOpen() = false after 2 failures")
	}
	if _, err := d.Dial(ctx); !errors.Is(err, transport.ErrCircuitOpen) {
		t.Errorf("third dial = %v, want ErrCircuitOpen", err)
	}
}
