// Package protocol defines the wire format spoken between a companion
// device and the OpenClaw Gateway: a JSON frame tagged as request,
// response or event, correlated by id, plus the typed parameter and
// payload shapes for every method the client uses.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Methods the client sends.
const (
	MethodConnect           = "connect"
	MethodHeartbeat         = "heartbeat"
	MethodRequestPairing    = "device.requestPairing"
	MethodGetPairingStatus  = "device.getPairingStatus"
	MethodPairWithCode      = "device.pairWithCode"
	MethodRefreshToken      = "device.refreshToken"
	MethodVerifyToken       = "device.verifyToken"
	MethodSkillResult       = "assistant.skill.result"
	MethodConfirmResponse   = "confirm.response"
	MethodUpdateDisplayName = "device.updateDisplayName"
)

// Events the Gateway pushes.
const (
	EventConnectChallenge = "connect.challenge"
	EventConfirmRequest   = "confirm.request"
	EventSkillExecute     = "skill.execute.request"
	EventSkillCancel      = "skill.cancel.request"
)

// Frame is a single wire message between device and Gateway.
// Exactly one of the three shapes is populated depending on Type:
// requests carry Method+Params, responses carry OK+Payload or Error,
// events carry Method+Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is the error object carried on a failed response.
type FrameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// ParseFrame decodes and validates a raw frame. Malformed frames are
// rejected here so they never reach the correlator or business logic.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Type {
	case TypeRequest:
		if f.ID == "" {
			return nil, fmt.Errorf("request frame missing id")
		}
		if f.Method == "" {
			return nil, fmt.Errorf("request frame missing method")
		}
	case TypeResponse:
		if f.ID == "" {
			return nil, fmt.Errorf("response frame missing id")
		}
	case TypeEvent:
		if f.Method == "" {
			return nil, fmt.Errorf("event frame missing method")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// NewRequest builds a request frame with marshaled params.
func NewRequest(id, method string, params any) (*Frame, error) {
	raw, err := marshalRaw(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Frame{Type: TypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response frame for the given request id.
func NewResponse(id string, payload any) (*Frame, error) {
	raw, err := marshalRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Frame{Type: TypeResponse, ID: id, OK: true, Payload: raw}, nil
}

// NewErrorResponse builds a failure response frame.
func NewErrorResponse(id, code, message string) *Frame {
	return &Frame{
		Type:  TypeResponse,
		ID:    id,
		Error: &FrameError{Code: code, Message: message},
	}
}

func marshalRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
