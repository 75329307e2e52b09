// Package gateway implements the protocol client: handshake,
// heartbeat and bounded reconnection layered on the transport
// correlator. The Gateway pushes work to the device through events;
// the client classifies them and fans them out on a typed bus.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/companion/internal/events"
	"github.com/openclaw/companion/internal/protocol"
	"github.com/openclaw/companion/internal/transport"
)

// State is the connection state machine position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Defaults for the recognized configuration surface.
const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
)

var (
	// ErrReconnectExhausted is reported once automatic reconnection
	// gives up; recovery after that requires an explicit Connect.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	errAlreadyConnecting = errors.New("connect already in progress")
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	URL                  string
	Token                string
	ClientID             string
	ClientMode           string
	Platform             string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	RequestTimeout       time.Duration
	Reconnect            bool
}

// Status is a point-in-time snapshot for the CLI and tests.
type Status struct {
	State             State
	URL               string
	ReconnectAttempts int
	PendingRequests   int
}

// Client maintains one authenticated channel to the Gateway.
type Client struct {
	dialer transport.Dialer
	corr   *transport.Correlator
	bus    *events.Bus
	logger *slog.Logger

	mu         sync.Mutex
	opts       Options
	state      State
	conn       transport.Conn
	gen        uint64 // connection generation, guards stale close callbacks
	attempts   int
	exhausted  bool
	challenge  chan protocol.ChallengePayload
	stopHB     chan struct{}
	reconnect  *time.Timer
	closedByUs bool
}

// New creates a disconnected client.
func New(opts Options, dialer transport.Dialer, bus *events.Bus, logger *slog.Logger) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Client{
		dialer: dialer,
		corr:   transport.NewCorrelator(opts.RequestTimeout, logger),
		bus:    bus,
		logger: logger,
		opts:   opts,
		state:  StateDisconnected,
	}
}

// Bus exposes the event bus for subscribers.
func (c *Client) Bus() *events.Bus { return c.bus }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the client.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		URL:               c.opts.URL,
		ReconnectAttempts: c.attempts,
		PendingRequests:   c.corr.PendingCount(),
	}
}

// SetURL changes the Gateway URL used by the next connection attempt.
// An already-open connection is unaffected.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	c.opts.URL = url
	c.mu.Unlock()
}

// SetToken changes the bearer token used by the next handshake.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.opts.Token = token
	c.mu.Unlock()
}

// Connect opens the transport and performs the handshake: the Gateway
// pushes a connect.challenge nonce, the client answers with a connect
// request carrying protocol bounds, identity and bearer auth. Only a
// successful handshake transitions to connected. An explicit Connect
// also re-arms automatic reconnection after it was exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		if state == StateConnected {
			return nil
		}
		return errAlreadyConnecting
	}
	c.cancelReconnectLocked()
	c.state = StateConnecting
	c.closedByUs = false
	c.exhausted = false
	c.attempts = 0
	c.mu.Unlock()

	err := c.connectOnce(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	}
	return err
}

// connectOnce performs a single dial + handshake. Caller has already
// set state to connecting.
func (c *Client) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	url := c.opts.URL
	c.gen++
	gen := c.gen
	c.challenge = make(chan protocol.ChallengePayload, 1)
	challenge := c.challenge
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, url,
		func(f *protocol.Frame) { c.handleFrame(f) },
		func(cause error) { c.handleClose(gen, cause) },
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.corr.Attach(conn)

	if err := c.handshake(ctx, challenge); err != nil {
		// A rejected handshake is a failed Connect, not an unexpected
		// close: invalidate the close callback so it cannot trigger
		// automatic reconnection, then drop the socket.
		c.teardown(gen)
		c.mu.Lock()
		c.gen++
		c.mu.Unlock()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.attempts = 0
	c.stopHB = make(chan struct{})
	stop := c.stopHB
	interval := c.opts.HeartbeatInterval
	c.mu.Unlock()

	go c.heartbeatLoop(interval, stop)
	events.Emit(c.bus, context.Background(), events.TopicConnected, struct{}{})
	c.logger.Info("gateway connected", "url", url)
	return nil
}

// handshake waits for the challenge nonce and answers with connect.
func (c *Client) handshake(ctx context.Context, challenge chan protocol.ChallengePayload) error {
	var nonce string
	select {
	case ch := <-challenge:
		nonce = ch.Nonce
	case <-time.After(DefaultHandshakeTimeout):
		return fmt.Errorf("handshake: no challenge from gateway within %s", DefaultHandshakeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	params := protocol.ConnectParams{
		MinProtocol: protocol.MinProtocolVersion,
		MaxProtocol: protocol.MaxProtocolVersion,
		Client: protocol.ClientInfo{
			ID:       c.opts.ClientID,
			Platform: c.opts.Platform,
			Mode:     c.opts.ClientMode,
		},
		Auth:  protocol.ConnectAuth{Token: c.opts.Token},
		Nonce: nonce,
	}
	c.mu.Unlock()

	payload, err := c.corr.Call(ctx, protocol.MethodConnect, params, 0)
	if err != nil {
		return fmt.Errorf("handshake rejected: %w", err)
	}

	var accepted protocol.ConnectPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &accepted); err != nil {
			return fmt.Errorf("handshake: bad connect payload: %w", err)
		}
	}
	c.logger.Debug("handshake complete", "protocol", accepted.Protocol)
	return nil
}

// Call issues a request over the open connection. It fails immediately
// while disconnected and never retries; retry policy belongs to the
// caller.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.corr.Call(ctx, method, params, 0)
}

// Disconnect closes the connection, rejects all pending requests and
// cancels heartbeat and reconnect timers. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closedByUs = true
	c.cancelReconnectLocked()
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if conn != nil {
		c.teardown(gen)
		conn.Close()
	}
	c.setDisconnected(true)
}

// teardown stops the heartbeat and drains pending requests for the
// given connection generation.
func (c *Client) teardown(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.stopHB != nil {
		close(c.stopHB)
		c.stopHB = nil
	}
	c.conn = nil
	c.mu.Unlock()
	c.corr.Detach()
}

func (c *Client) setDisconnected(emit bool) {
	c.mu.Lock()
	was := c.state
	c.state = StateDisconnected
	c.mu.Unlock()
	if emit && was != StateDisconnected {
		events.Emit(c.bus, context.Background(), events.TopicDisconnected, struct{}{})
	}
}

// handleClose reacts to the transport dying underneath us.
func (c *Client) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	userClose := c.closedByUs
	c.mu.Unlock()

	c.teardown(gen)
	if userClose {
		return
	}

	c.logger.Warn("gateway connection lost", "error", cause)
	events.Emit(c.bus, context.Background(), events.TopicError, cause)
	c.setDisconnected(true)
	c.scheduleReconnect()
}

// scheduleReconnect arms the next automatic attempt, or gives up for
// good once the attempt budget is spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.Reconnect || c.closedByUs || c.exhausted || c.reconnect != nil {
		return
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.exhausted = true
		c.logger.Error("giving up on automatic reconnection",
			"attempts", c.attempts)
		events.Emit(c.bus, context.Background(), events.TopicError, ErrReconnectExhausted)
		return
	}
	c.attempts++
	attempt := c.attempts
	c.reconnect = time.AfterFunc(c.opts.ReconnectInterval, func() {
		c.mu.Lock()
		c.reconnect = nil
		if c.closedByUs || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		c.logger.Info("reconnecting to gateway", "attempt", attempt)
		if err := c.connectOnce(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			c.setDisconnected(false)
			c.scheduleReconnect()
		}
	})
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// heartbeatLoop issues heartbeat calls on a fixed interval. Failures
// are logged and otherwise ignored; a dead connection is detected by
// the transport itself.
func (c *Client) heartbeatLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, err := c.corr.Call(ctx, protocol.MethodHeartbeat, protocol.HeartbeatParams{
				Timestamp: time.Now().UnixMilli(),
			}, 0)
			cancel()
			if err != nil {
				c.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// handleFrame routes inbound frames: responses to the correlator,
// reserved events to their dedicated topics, everything else to the
// generic event topic.
func (c *Client) handleFrame(f *protocol.Frame) {
	ctx := context.Background()
	switch f.Type {
	case protocol.TypeResponse:
		c.corr.HandleResponse(f)

	case protocol.TypeEvent:
		switch f.Method {
		case protocol.EventConnectChallenge:
			var ch protocol.ChallengePayload
			if err := json.Unmarshal(f.Payload, &ch); err != nil {
				c.logger.Warn("bad challenge payload", "error", err)
				return
			}
			c.mu.Lock()
			challenge := c.challenge
			c.mu.Unlock()
			if challenge != nil {
				select {
				case challenge <- ch:
				default:
				}
			}

		case protocol.EventConfirmRequest:
			var req protocol.ConfirmRequestPayload
			if err := json.Unmarshal(f.Payload, &req); err != nil {
				c.logger.Warn("bad confirm.request payload", "error", err)
				return
			}
			events.Emit(c.bus, ctx, events.TopicConfirm, req)

		case protocol.EventSkillExecute:
			var req protocol.SkillExecuteRequest
			if err := json.Unmarshal(f.Payload, &req); err != nil {
				c.logger.Warn("bad skill.execute.request payload", "error", err)
				return
			}
			events.Emit(c.bus, ctx, events.TopicSkillExecute, req)

		default:
			events.Emit(c.bus, ctx, events.TopicEvent, *f)
		}

	default:
		c.logger.Debug("ignoring frame", "type", f.Type, "method", f.Method)
	}
}
