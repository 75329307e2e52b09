package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openclaw/companion/internal/protocol"
	"github.com/openclaw/companion/internal/sandbox"
	"github.com/openclaw/companion/internal/sysapi"
)

// DefaultSkillTimeout applies when a request carries no timeoutMs.
const DefaultSkillTimeout = 60 * time.Second

// ConfirmProvider asks the local user a yes/no question. It may block
// on a UI round-trip.
type ConfirmProvider func(ctx context.Context, message string) (bool, error)

// Caller posts the result frame back to the Gateway. Satisfied by
// *gateway.Client.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Runtime dispatches remotely requested skill executions.
type Runtime struct {
	system  sysapi.SystemAPI
	confirm ConfirmProvider
	sandbox sandbox.Sandbox
	logger  *slog.Logger

	mu      sync.RWMutex
	skills  map[string]*Definition
	running map[string]context.CancelFunc
}

// NewRuntime creates a runtime with the built-in skills registered.
// system may be nil, in which case every dispatch fails fast with
// INTERNAL_ERROR; sb may be nil to disable sandboxed execution.
func NewRuntime(system sysapi.SystemAPI, confirm ConfirmProvider, sb sandbox.Sandbox, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runtime{
		system:  system,
		confirm: confirm,
		sandbox: sb,
		logger:  logger,
		skills:  make(map[string]*Definition),
		running: make(map[string]context.CancelFunc),
	}
	r.registerBuiltins()
	return r
}

// RegisterSkill adds or replaces a skill in the registry.
func (r *Runtime) RegisterSkill(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.skills[def.ID] = def
	r.mu.Unlock()
	r.logger.Debug("skill registered", "skill", def.ID, "enabled", def.Enabled)
	return nil
}

// UnregisterSkill removes a skill; reports whether it existed.
func (r *Runtime) UnregisterSkill(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[id]; !ok {
		return false
	}
	delete(r.skills, id)
	return true
}

// ListSkills returns the enabled skills, sorted by id.
func (r *Runtime) ListSkills() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.skills))
	for _, def := range r.skills {
		if def.Enabled {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExecuteSkill runs one dispatch to completion and returns the result
// that should be reported to the Gateway. It never returns an error:
// every failure mode maps onto the closed error taxonomy.
func (r *Runtime) ExecuteSkill(ctx context.Context, req protocol.SkillExecuteRequest) protocol.SkillExecuteResult {
	start := time.Now()
	fail := func(code protocol.ErrorCode, msg string) protocol.SkillExecuteResult {
		return protocol.SkillExecuteResult{
			RequestID:       req.RequestID,
			Success:         false,
			Error:           protocol.NewSkillError(code, msg),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	if r.system == nil {
		return fail(protocol.ErrInternalError, "system API not available")
	}

	r.mu.RLock()
	def, ok := r.skills[req.SkillID]
	r.mu.RUnlock()
	if !ok {
		return fail(protocol.ErrSkillNotFound, fmt.Sprintf("skill %q not found", req.SkillID))
	}
	if !def.Enabled {
		return fail(protocol.ErrSkillDisabled, fmt.Sprintf("skill %q is disabled", req.SkillID))
	}

	if needConfirm, message := confirmPolicy(def, req); needConfirm {
		if r.confirm == nil {
			return fail(protocol.ErrPermissionDenied, "confirmation required but no provider configured")
		}
		approved, err := r.confirm(ctx, message)
		if err != nil {
			return fail(protocol.ErrInternalError, fmt.Sprintf("confirmation failed: %v", err))
		}
		if !approved {
			return fail(protocol.ErrUserCancelled, "user declined execution")
		}
	}

	timeout := DefaultSkillTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.mu.Lock()
	r.running[req.RequestID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, req.RequestID)
		r.mu.Unlock()
	}()

	sc := &Context{
		Ctx:     execCtx,
		System:  r.system,
		Confirm: r.confirm,
		Sandbox: r.sandbox,
		Logger:  r.logger.With("skill", def.ID),
	}

	value, err := r.runBody(sc, def, req.Params)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		code := classify(execCtx, err)
		r.logger.Warn("skill execution failed",
			"skill", def.ID, "request", req.RequestID, "code", code, "error", err)
		res := fail(code, err.Error())
		res.ExecutionTimeMs = elapsed
		return res
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fail(protocol.ErrInternalError, fmt.Sprintf("marshal result: %v", err))
	}
	r.logger.Info("skill executed",
		"skill", def.ID, "request", req.RequestID, "ms", elapsed)
	return protocol.SkillExecuteResult{
		RequestID:       req.RequestID,
		Success:         true,
		Result:          raw,
		ExecutionTimeMs: elapsed,
	}
}

// runBody invokes the skill body, converting panics to errors so one
// bad skill cannot take the runtime down.
func (r *Runtime) runBody(sc *Context, def *Definition, params json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("skill panicked: %v", rec)
		}
	}()
	return def.Execute(sc, params)
}

// classify maps an execution failure onto the error taxonomy. Aborts,
// whether from the timeout timer or an external CancelExecution, are
// TIMEOUT; everything else a skill throws is EXECUTION_ERROR.
func classify(ctx context.Context, err error) protocol.ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		ctx.Err() != nil {
		return protocol.ErrTimeout
	}
	var se *protocol.SkillError
	if errors.As(err, &se) {
		return se.Code
	}
	return protocol.ErrExecutionError
}

// CancelExecution aborts a running dispatch by request id; reports
// whether one was found. Cancellation is cooperative: the body sees
// it at its next context check.
func (r *Runtime) CancelExecution(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[requestID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	r.logger.Info("skill execution cancelled", "request", requestID)
	return true
}

// RunningCount reports active dispatches, for status output.
func (r *Runtime) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.running)
}

// Dispatch executes a request and reports the result back via
// assistant.skill.result. Reporting failures are logged, not
// re-dispatched; the Gateway treats a missing result as expired.
func (r *Runtime) Dispatch(ctx context.Context, req protocol.SkillExecuteRequest, call Caller) {
	result := r.ExecuteSkill(ctx, req)
	if _, err := call.Call(ctx, protocol.MethodSkillResult, result); err != nil {
		r.logger.Error("failed to report skill result",
			"request", req.RequestID, "error", err)
	}
}

// confirmPolicy merges the request flag with the skill's own policy.
func confirmPolicy(def *Definition, req protocol.SkillExecuteRequest) (bool, string) {
	message := req.ConfirmMessage
	need := req.RequireConfirm
	if def.Permissions != nil && def.Permissions.RequireConfirm {
		need = true
		if message == "" {
			message = def.Permissions.ConfirmMessage
		}
	}
	if message == "" {
		message = fmt.Sprintf("Allow skill %q to run?", def.Name)
	}
	return need, message
}
