package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/companion/internal/protocol"
)

// DefaultRequestTimeout applies when a Call passes no explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

type callResult struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	id    string
	ch    chan callResult
	timer *time.Timer
}

// Correlator matches responses to in-flight requests by id. Each
// pending entry is settled exactly once: by the matching response, by
// its deadline timer, or by FailAll on disconnect.
type Correlator struct {
	mu      sync.Mutex
	conn    Conn
	pending map[string]*pendingRequest

	timeout time.Duration
	logger  *slog.Logger
}

// NewCorrelator creates a correlator with the given default timeout.
// Zero means DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration, logger *slog.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Correlator{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
		logger:  logger,
	}
}

// Attach binds the correlator to an open connection.
func (c *Correlator) Attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Detach drops the connection and rejects every pending request with
// ErrConnectionClosed. No entry is left to time out silently.
func (c *Correlator) Detach() {
	c.mu.Lock()
	c.conn = nil
	drained := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		drained = append(drained, p)
	}
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range drained {
		p.timer.Stop()
		p.ch <- callResult{err: ErrConnectionClosed}
	}
}

// Call sends a request frame and blocks until the matching response,
// the timeout, or ctx cancellation. While disconnected it fails
// immediately without attempting a send.
func (c *Correlator) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	id := uuid.NewString()
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{id: id, ch: make(chan callResult, 1)}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	p.timer = time.AfterFunc(timeout, func() {
		if c.take(id) != nil {
			p.ch <- callResult{err: fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)}
		}
	})
	c.pending[id] = p
	c.mu.Unlock()

	if err := conn.WriteFrame(frame); err != nil {
		if c.take(id) != nil {
			p.timer.Stop()
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case res := <-p.ch:
		return res.payload, res.err
	case <-ctx.Done():
		if c.take(id) != nil {
			p.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// HandleResponse settles the pending request named by the frame.
// Responses for unknown ids (already timed out or drained) are dropped.
func (c *Correlator) HandleResponse(f *protocol.Frame) {
	p := c.take(f.ID)
	if p == nil {
		c.logger.Debug("response for unknown request", "id", f.ID)
		return
	}
	p.timer.Stop()

	if f.Error != nil {
		p.ch <- callResult{err: f.Error}
		return
	}
	if !f.OK {
		p.ch <- callResult{err: fmt.Errorf("request %s rejected", f.ID)}
		return
	}
	p.ch <- callResult{payload: f.Payload}
}

// PendingCount reports in-flight requests, for status and tests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns a pending entry, or nil if already settled.
func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}
