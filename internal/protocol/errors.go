package protocol

// ErrorCode is the closed taxonomy for skill execution failures.
// Protocol-level failures (handshake rejection, request timeout,
// transport errors) are plain Go errors, not codes; the skill runtime
// translates them when they surface during a dispatch.
type ErrorCode string

const (
	ErrSkillNotFound    ErrorCode = "SKILL_NOT_FOUND"
	ErrSkillDisabled    ErrorCode = "SKILL_DISABLED"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrUserCancelled    ErrorCode = "USER_CANCELLED"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrExecutionError   ErrorCode = "EXECUTION_ERROR"
	ErrInvalidParams    ErrorCode = "INVALID_PARAMS"
	ErrResourceLimit    ErrorCode = "RESOURCE_LIMIT"
	ErrSandboxViolation ErrorCode = "SANDBOX_VIOLATION"
	ErrNetworkError     ErrorCode = "NETWORK_ERROR"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrSandboxError     ErrorCode = "SANDBOX_ERROR"
)

// NewSkillError builds a SkillError for the given code.
func NewSkillError(code ErrorCode, message string) *SkillError {
	return &SkillError{Code: code, Message: message}
}
