package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/companion/internal/protocol"
)

// wsEchoServer accepts websocket upgrades and reads until the peer
// goes away.
func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func dialTest(t *testing.T, server *httptest.Server, onClose func(error)) Conn {
	t.Helper()
	d := &WebSocketDialer{}
	conn, err := d.Dial(context.Background(),
		"ws"+strings.TrimPrefix(server.URL, "http"),
		func(*protocol.Frame) {}, onClose)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestCloseStopsBackgroundLoops(t *testing.T) {
	server := wsEchoServer(t)
	conn := dialTest(t, server, nil)

	conn.Close()

	// The ping loop must observe the close immediately, not at its
	// next tick.
	wc := conn.(*wsConn)
	select {
	case <-wc.done:
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after Close")
	}
}

func TestCloseCallbackFiresExactlyOnce(t *testing.T) {
	server := wsEchoServer(t)

	var closes int32
	conn := dialTest(t, server, func(error) { atomic.AddInt32(&closes, 1) })

	conn.Close()
	conn.Close()

	// The read pump also dies from the close; give it time to race
	// finish and verify the callback still fired once.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&closes); n != 1 {
		t.Errorf("expected one close callback, got %d", n)
	}
}

func TestServerDropFiresCloseCallback(t *testing.T) {
	// httptest's CloseClientConnections skips hijacked connections,
	// so capture the upgraded websocket and drop it directly.
	var upgrader websocket.Upgrader
	accepted := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	closed := make(chan error, 1)
	conn := dialTest(t, server, func(err error) { closed <- err })
	defer conn.Close()

	(<-accepted).Close()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("close callback carried no cause")
		}
	case <-time.After(time.Second):
		t.Fatal("close callback never fired after server drop")
	}
}
