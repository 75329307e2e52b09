// Package sandbox executes untrusted code strings under a time and
// resource budget. Two strategies implement one contract: an isolated
// goja VM per execution with an engine-enforced interrupt watchdog,
// and an in-process fallback that races completion against a timer
// and cannot preempt a runaway synchronous loop. The strategy is
// picked once, by a capability probe at Initialize time, and never
// re-probed mid-session.
package sandbox

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Options are fixed per sandbox instance.
//
// MemoryLimitMB bounds heap growth during one execution and is
// enforced only by the isolated strategy, approximately: goja has no
// per-VM accounting, so the watchdog samples the process-wide heap
// delta and interrupts when it passes the budget. The fallback
// strategy has no interrupt mechanism and cannot enforce it.
//
// AllowNetwork, AllowFileSystem and AllowedGlobals are policy for
// callers deciding which host APIs to register. The engine itself
// carries only the ECMAScript builtins; network and filesystem access
// exist solely through registered APIs, so there is no ambient
// capability for these flags to switch off.
type Options struct {
	MemoryLimitMB   int
	TimeoutMs       int64
	AllowNetwork    bool
	AllowFileSystem bool
	AllowedGlobals  []string
}

// DefaultTimeout applies when Options.TimeoutMs is zero.
const DefaultTimeout = 5 * time.Second

// Result is the outcome shape shared by both strategies.
type Result struct {
	Success         bool
	Value           any
	Error           string
	ExecutionTimeMs int64
	MemoryUsedBytes int64
}

// IsTimeout reports whether a failed result was stopped by the
// execution watchdog.
func IsTimeout(r Result) bool {
	return strings.Contains(r.Error, timeoutMessage)
}

// IsResourceLimit reports whether a failed result was stopped by the
// memory budget.
func IsResourceLimit(r Result) bool {
	return strings.Contains(r.Error, memoryLimitMessage)
}

// Status reports which engine actually backs the sandbox. Callers
// must not assume strong isolation without checking Isolated.
type Status struct {
	Engine   string
	Isolated bool
}

// APIFunc is a host function exposed to sandboxed code.
type APIFunc func(args ...any) (any, error)

// Sandbox runs code strings with an injected context object and the
// registered host APIs in scope.
type Sandbox interface {
	ExecuteInSandbox(code string, context map[string]any) Result
	RegisterAPI(name string, fn APIFunc)
	UnregisterAPI(name string)
	Status() Status
	Dispose()
}

// Initialize probes the isolation engine and returns the strongest
// strategy available.
func Initialize(opts Options, logger *slog.Logger) Sandbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultTimeout.Milliseconds()
	}
	if probeIsolatedEngine() {
		logger.Debug("sandbox: isolated engine active")
		return newIsolated(opts, logger)
	}
	logger.Warn("sandbox: isolated engine unavailable, using fallback strategy")
	return newFallback(opts, logger)
}

// apiTable is the registered host-callable surface, shared by both
// strategies.
type apiTable struct {
	mu   sync.RWMutex
	apis map[string]APIFunc
}

func newAPITable() *apiTable {
	return &apiTable{apis: make(map[string]APIFunc)}
}

func (t *apiTable) register(name string, fn APIFunc) {
	t.mu.Lock()
	t.apis[name] = fn
	t.mu.Unlock()
}

func (t *apiTable) unregister(name string) {
	t.mu.Lock()
	delete(t.apis, name)
	t.mu.Unlock()
}

func (t *apiTable) snapshot() map[string]APIFunc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]APIFunc, len(t.apis))
	for k, v := range t.apis {
		out[k] = v
	}
	return out
}

func (t *apiTable) clear() {
	t.mu.Lock()
	t.apis = make(map[string]APIFunc)
	t.mu.Unlock()
}
