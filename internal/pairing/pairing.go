// Package pairing owns the durable device identity and the pairing
// state machine: unpaired → pending → paired, plus the direct
// unpaired → paired jump via code-based pairing. Every transition is
// written through to the Store before it is observable.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/companion/internal/protocol"
)

// Pairing status values.
const (
	StatusUnpaired = "unpaired"
	StatusPending  = "pending"
	StatusPaired   = "paired"
)

// ErrNotInitialized is returned by operations invoked before
// Initialize has run. It marks a programmer error, unlike business
// rejections which come back as PairResult.
var ErrNotInitialized = errors.New("device not initialized")

// Caller issues requests through the protocol client. Satisfied by
// *gateway.Client.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// DeviceInfo is the stable identity of this device. Created once;
// only the display name changes, unless the device is reset.
type DeviceInfo struct {
	DeviceID    string    `json:"deviceId"`
	DisplayName string    `json:"displayName"`
	Platform    string    `json:"platform"`
	ClientID    string    `json:"clientId"`
	ClientMode  string    `json:"clientMode"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State is the full persisted snapshot. Token is present iff status
// is paired; RequestID is present iff status is pending.
type State struct {
	Device     DeviceInfo `json:"device"`
	Status     string     `json:"status"`
	GatewayURL string     `json:"gatewayUrl,omitempty"`
	Token      string     `json:"token,omitempty"`
	RequestID  string     `json:"requestId,omitempty"`
	PairedAt   *time.Time `json:"pairedAt,omitempty"`
}

// PairResult is the outcome of a pairing operation. Expected business
// rejections (wrong code, server-side refusal) land here with
// Success=false rather than as errors.
type PairResult struct {
	Success bool
	Status  string
	Message string
}

// Manager drives the pairing state machine.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	state *State
}

// NewManager creates an uninitialized manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, logger: logger}
}

// Initialize loads persisted state or synthesizes a fresh device
// identity. Idempotent once state exists in memory.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return nil
	}

	st, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load pairing state: %w", err)
	}
	if st != nil {
		m.state = st
		m.logger.Debug("restored device state",
			"deviceId", st.Device.DeviceID, "status", st.Status)
		return nil
	}

	st = &State{
		Device: newDeviceInfo(),
		Status: StatusUnpaired,
	}
	if err := m.store.Save(st); err != nil {
		return fmt.Errorf("persist new device: %w", err)
	}
	m.state = st
	m.logger.Info("created device identity", "deviceId", st.Device.DeviceID)
	return nil
}

func newDeviceInfo() DeviceInfo {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "companion"
	}
	return DeviceInfo{
		DeviceID:    uuid.NewString(),
		DisplayName: host,
		Platform:    runtime.GOOS,
		ClientID:    "companion-client",
		ClientMode:  "device",
		CreatedAt:   time.Now().UTC(),
	}
}

// Device returns a copy of the device identity.
func (m *Manager) Device() (DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return DeviceInfo{}, ErrNotInitialized
	}
	return m.state.Device, nil
}

// Status returns the current pairing status.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return StatusUnpaired
	}
	return m.state.Status
}

// IsPaired reports whether the device holds a pairing token.
func (m *Manager) IsPaired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil && m.state.Status == StatusPaired
}

// Token returns the current pairing token, empty when unpaired.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ""
	}
	return m.state.Token
}

// GatewayURL returns the Gateway recorded at pairing time.
func (m *Manager) GatewayURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ""
	}
	return m.state.GatewayURL
}

// SetDisplayName updates and persists the device display name.
func (m *Manager) SetDisplayName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ErrNotInitialized
	}
	m.state.Device.DisplayName = name
	return m.persistLocked()
}

// RequestPairing asks the Gateway to start approval-based pairing and
// transitions to pending on success.
func (m *Manager) RequestPairing(ctx context.Context, gatewayURL string, call Caller) error {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	params := protocol.RequestPairingParams{
		DeviceID:    m.state.Device.DeviceID,
		DisplayName: m.state.Device.DisplayName,
		Platform:    m.state.Device.Platform,
	}
	m.mu.Unlock()

	payload, err := call.Call(ctx, protocol.MethodRequestPairing, params)
	if err != nil {
		return fmt.Errorf("request pairing: %w", err)
	}
	var resp protocol.RequestPairingPayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("request pairing: bad payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = StatusPending
	m.state.RequestID = resp.RequestID
	m.state.GatewayURL = gatewayURL
	m.state.Token = ""
	m.state.PairedAt = nil
	return m.persistLocked()
}

// CheckPairingStatus polls the pending request. Approval transitions
// to paired, rejection back to unpaired, pending is a no-op. Without
// a pending request it returns the current status locally.
func (m *Manager) CheckPairingStatus(ctx context.Context, call Caller) (string, error) {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return "", ErrNotInitialized
	}
	requestID := m.state.RequestID
	status := m.state.Status
	m.mu.Unlock()

	if requestID == "" {
		return status, nil
	}

	payload, err := call.Call(ctx, protocol.MethodGetPairingStatus,
		protocol.PairingStatusParams{RequestID: requestID})
	if err != nil {
		return "", fmt.Errorf("check pairing status: %w", err)
	}
	var resp protocol.PairingStatusPayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("check pairing status: bad payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch resp.Status {
	case "approved":
		now := time.Now().UTC()
		m.state.Status = StatusPaired
		m.state.Token = resp.Token
		m.state.RequestID = ""
		m.state.PairedAt = &now
		if err := m.persistLocked(); err != nil {
			return "", err
		}
	case "rejected":
		m.resetToUnpairedLocked()
		if err := m.persistLocked(); err != nil {
			return "", err
		}
	}
	return m.state.Status, nil
}

// PairWithCode performs single round-trip pairing. Business rejection
// leaves state untouched and is reported in the result, not thrown.
func (m *Manager) PairWithCode(ctx context.Context, code, gatewayURL string, call Caller) (PairResult, error) {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return PairResult{}, ErrNotInitialized
	}
	params := protocol.PairWithCodeParams{
		Code:        code,
		DeviceID:    m.state.Device.DeviceID,
		DisplayName: m.state.Device.DisplayName,
		Platform:    m.state.Device.Platform,
	}
	m.mu.Unlock()

	payload, err := call.Call(ctx, protocol.MethodPairWithCode, params)
	if err != nil {
		// Transport or server error: state unchanged.
		return PairResult{Success: false, Status: m.Status(), Message: err.Error()}, nil
	}
	var resp protocol.PairWithCodePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return PairResult{Success: false, Status: m.Status(), Message: err.Error()}, nil
	}
	if !resp.Success {
		return PairResult{Success: false, Status: m.Status(), Message: resp.Message}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.state.Status = StatusPaired
	m.state.Token = resp.Token
	m.state.GatewayURL = gatewayURL
	m.state.RequestID = ""
	m.state.PairedAt = &now
	if err := m.persistLocked(); err != nil {
		return PairResult{}, err
	}
	m.logger.Info("device paired", "deviceId", m.state.Device.DeviceID)
	return PairResult{Success: true, Status: StatusPaired}, nil
}

// Unpair resets to unpaired, clearing the token. A no-op before
// Initialize.
func (m *Manager) Unpair() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	m.resetToUnpairedLocked()
	return m.persistLocked()
}

// RefreshToken exchanges the current token for a new one. Returns ""
// without a network call when not paired.
func (m *Manager) RefreshToken(ctx context.Context, call Caller) (string, error) {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return "", ErrNotInitialized
	}
	if m.state.Status != StatusPaired {
		m.mu.Unlock()
		return "", nil
	}
	params := protocol.RefreshTokenParams{
		DeviceID: m.state.Device.DeviceID,
		Token:    m.state.Token,
	}
	m.mu.Unlock()

	payload, err := call.Call(ctx, protocol.MethodRefreshToken, params)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	var resp protocol.RefreshTokenPayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("refresh token: bad payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Token = resp.Token
	if err := m.persistLocked(); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// VerifyToken asks the Gateway whether the stored token is still
// valid. An invalid verdict self-demotes the device to unpaired, so
// verification is not purely read-only.
func (m *Manager) VerifyToken(ctx context.Context, call Caller) (bool, error) {
	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return false, ErrNotInitialized
	}
	if m.state.Status != StatusPaired {
		m.mu.Unlock()
		return false, nil
	}
	params := protocol.VerifyTokenParams{
		DeviceID: m.state.Device.DeviceID,
		Token:    m.state.Token,
	}
	m.mu.Unlock()

	payload, err := call.Call(ctx, protocol.MethodVerifyToken, params)
	if err != nil {
		return false, fmt.Errorf("verify token: %w", err)
	}
	var resp protocol.VerifyTokenPayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return false, fmt.Errorf("verify token: bad payload: %w", err)
	}

	if !resp.Valid {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.resetToUnpairedLocked()
		if err := m.persistLocked(); err != nil {
			return false, err
		}
		m.logger.Warn("gateway invalidated token, device unpaired")
		return false, nil
	}
	return true, nil
}

// ResetDevice discards the identity and any pairing, generating a
// fresh device id.
func (m *Manager) ResetDevice() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &State{
		Device: newDeviceInfo(),
		Status: StatusUnpaired,
	}
	if err := m.store.Save(st); err != nil {
		return fmt.Errorf("persist reset device: %w", err)
	}
	m.state = st
	m.logger.Info("device reset", "deviceId", st.Device.DeviceID)
	return nil
}

func (m *Manager) resetToUnpairedLocked() {
	m.state.Status = StatusUnpaired
	m.state.Token = ""
	m.state.RequestID = ""
	m.state.PairedAt = nil
}

func (m *Manager) persistLocked() error {
	if err := m.store.Save(m.state); err != nil {
		return fmt.Errorf("persist pairing state: %w", err)
	}
	return nil
}
