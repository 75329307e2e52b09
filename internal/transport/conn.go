// Package transport owns the physical websocket connection to the
// Gateway and the correlator that matches responses to in-flight
// requests by id. Reconnection and handshake live a layer up, in
// internal/gateway; nothing here retries anything.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/companion/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the Gateway.
	maxMessageSize = 512 * 1024
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrRequestTimeout   = errors.New("request timeout")
)

// Conn is one open framed connection.
type Conn interface {
	// WriteFrame writes a single frame. Safe for concurrent use.
	WriteFrame(f *protocol.Frame) error
	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer opens connections. onFrame is invoked for every valid inbound
// frame in receive order; onClose fires exactly once when the
// connection dies for any reason, with the causing error.
type Dialer interface {
	Dial(ctx context.Context, url string, onFrame func(*protocol.Frame), onClose func(error)) (Conn, error)
}

// WebSocketDialer dials the Gateway over websocket.
type WebSocketDialer struct {
	Logger *slog.Logger
}

// Dial opens the websocket and starts the read pump.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, onFrame func(*protocol.Frame), onClose func(error)) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		ws:      ws,
		logger:  logger,
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go c.readPump(onFrame)
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(error)
}

func (c *wsConn) WriteFrame(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	err := c.ws.Close()
	c.finish(ErrConnectionClosed)
	return err
}

// finish stops the background loops and fires the close callback,
// exactly once.
func (c *wsConn) finish(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

func (c *wsConn) readPump(onFrame func(*protocol.Frame)) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			c.finish(err)
			return
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			// Malformed frames are dropped at the boundary.
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		onFrame(frame)
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
