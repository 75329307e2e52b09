package protocol

import "encoding/json"

// Protocol version bounds offered during the connect handshake.
const (
	MinProtocolVersion = 1
	MaxProtocolVersion = 3
)

// ClientInfo identifies the connecting device in the connect request.
type ClientInfo struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Mode     string `json:"mode,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ConnectAuth carries the bearer token for the handshake.
type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// ConnectParams is the body of the connect handshake request, sent in
// reply to the Gateway's connect.challenge event.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Auth        ConnectAuth `json:"auth"`
	Nonce       string      `json:"nonce,omitempty"`
}

// ConnectPayload is the Gateway's answer to a successful handshake.
type ConnectPayload struct {
	Protocol  int    `json:"protocol"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChallengePayload is pushed by the Gateway before the handshake.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// HeartbeatParams is sent on the fixed heartbeat interval.
type HeartbeatParams struct {
	Timestamp int64 `json:"timestamp"`
}

// RequestPairingParams starts code-less pairing for this device.
type RequestPairingParams struct {
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

// RequestPairingPayload acknowledges a pairing request.
type RequestPairingPayload struct {
	RequestID string `json:"requestId"`
}

// PairingStatusParams polls a pending pairing request.
type PairingStatusParams struct {
	RequestID string `json:"requestId"`
}

// PairingStatusPayload reports the server-side decision.
// Status is one of "pending", "approved", "rejected".
type PairingStatusPayload struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

// PairWithCodeParams exchanges a short pairing code for a token.
type PairWithCodeParams struct {
	Code        string `json:"code"`
	DeviceID    string `json:"deviceId"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

// PairWithCodePayload is the single round-trip pairing result.
type PairWithCodePayload struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// RefreshTokenParams trades the current token for a fresh one.
type RefreshTokenParams struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// RefreshTokenPayload carries the replacement token.
type RefreshTokenPayload struct {
	Token string `json:"token"`
}

// VerifyTokenParams asks the Gateway whether a token is still good.
type VerifyTokenParams struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// VerifyTokenPayload is the verification verdict.
type VerifyTokenPayload struct {
	Valid bool `json:"valid"`
}

// ConfirmRequestPayload is pushed when the Gateway wants the local
// user to approve something before work proceeds.
type ConfirmRequestPayload struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// ConfirmResponseParams answers a confirm.request event.
type ConfirmResponseParams struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}

// SkillCancelPayload is pushed to abort a running skill dispatch.
type SkillCancelPayload struct {
	RequestID string `json:"requestId"`
}

// SkillExecuteRequest is pushed when the Gateway dispatches a skill.
type SkillExecuteRequest struct {
	RequestID      string          `json:"requestId"`
	SkillID        string          `json:"skillId"`
	Params         json.RawMessage `json:"params,omitempty"`
	RequireConfirm bool            `json:"requireConfirm,omitempty"`
	ConfirmMessage string          `json:"confirmMessage,omitempty"`
	TimeoutMs      int64           `json:"timeoutMs,omitempty"`
	RunMode        string          `json:"runMode,omitempty"`
}

// SkillExecuteResult is reported back via assistant.skill.result.
type SkillExecuteResult struct {
	RequestID       string          `json:"requestId"`
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *SkillError     `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
	ResourceUsage   *ResourceUsage  `json:"resourceUsage,omitempty"`
}

// SkillError carries one of the closed error codes plus a message.
type SkillError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *SkillError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// ResourceUsage is optional execution accounting.
type ResourceUsage struct {
	MemoryUsedBytes int64 `json:"memoryUsedBytes,omitempty"`
}
