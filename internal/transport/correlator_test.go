package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/companion/internal/protocol"
)

// fakeConn records written frames and lets tests answer them.
type fakeConn struct {
	mu     sync.Mutex
	frames []*protocol.Frame
	err    error
}

func (f *fakeConn) WriteFrame(fr *protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) lastFrame() *protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func TestCallWhileDisconnected(t *testing.T) {
	c := NewCorrelator(time.Second, nil)

	_, err := c.Call(context.Background(), "heartbeat", nil, 0)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("no pending entry should remain, got %d", c.PendingCount())
	}
}

func TestCallSettledByResponse(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(time.Second, nil)
	c.Attach(conn)

	done := make(chan error, 1)
	go func() {
		payload, err := c.Call(context.Background(), "device.verifyToken", nil, 0)
		if err == nil && string(payload) != `{"valid":true}` {
			err = errors.New("unexpected payload " + string(payload))
		}
		done <- err
	}()

	// Wait for the request frame to be written, then answer it.
	var req *protocol.Frame
	for i := 0; i < 100; i++ {
		if req = conn.lastFrame(); req != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if req == nil {
		t.Fatal("request frame never written")
	}
	if req.Type != protocol.TypeRequest || req.ID == "" {
		t.Fatalf("malformed request frame: %+v", req)
	}

	res, err := protocol.NewResponse(req.ID, map[string]bool{"valid": true})
	if err != nil {
		t.Fatal(err)
	}
	c.HandleResponse(res)

	if err := <-done; err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending table not cleared, got %d", c.PendingCount())
	}
}

func TestCallErrorResponse(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(time.Second, nil)
	c.Attach(conn)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "connect", nil, 0)
		done <- err
	}()

	var req *protocol.Frame
	for i := 0; i < 100; i++ {
		if req = conn.lastFrame(); req != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if req == nil {
		t.Fatal("request frame never written")
	}

	c.HandleResponse(protocol.NewErrorResponse(req.ID, "AUTH_FAILED", "bad token"))

	err := <-done
	if err == nil {
		t.Fatal("expected error from rejected request")
	}
	var fe *protocol.FrameError
	if !errors.As(err, &fe) || fe.Code != "AUTH_FAILED" {
		t.Fatalf("expected AUTH_FAILED frame error, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(time.Second, nil)
	c.Attach(conn)

	_, err := c.Call(context.Background(), "heartbeat", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("timed-out entry still pending")
	}
}

func TestLateResponseAfterTimeoutIsDropped(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(time.Second, nil)
	c.Attach(conn)

	_, err := c.Call(context.Background(), "heartbeat", nil, 20*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The late response must not panic or settle anything.
	req := conn.lastFrame()
	res, _ := protocol.NewResponse(req.ID, nil)
	c.HandleResponse(res)
	if c.PendingCount() != 0 {
		t.Errorf("late response recreated a pending entry")
	}
}

func TestDetachDrainsAllPending(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(10*time.Second, nil)
	c.Attach(conn)

	const n = 5
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Call(context.Background(), "heartbeat", nil, 0)
			done <- err
		}()
	}

	for i := 0; i < 200; i++ {
		if c.PendingCount() == n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.PendingCount() != n {
		t.Fatalf("expected %d pending, got %d", n, c.PendingCount())
	}

	c.Detach()

	for i := 0; i < n; i++ {
		if err := <-done; !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending table not empty after detach")
	}

	// And the next call fails fast.
	if _, err := c.Call(context.Background(), "heartbeat", nil, 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after detach, got %v", err)
	}
}

func TestCallContextCancelled(t *testing.T) {
	conn := &fakeConn{}
	c := NewCorrelator(10*time.Second, nil)
	c.Attach(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "heartbeat", nil, 0)
		done <- err
	}()

	for i := 0; i < 200; i++ {
		if c.PendingCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("cancelled entry still pending")
	}
}
