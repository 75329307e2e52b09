package sandbox

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"
)

// fallback races each execution against a timer in a goroutine. It
// has no engine-level interrupt: a runaway synchronous loop keeps its
// goroutine until it finishes on its own, and the memory budget is
// not enforced. The caller still sees a timeout result either way.
// Each execution gets its own VM, so no state crosses between runs.
type fallback struct {
	opts   Options
	apis   *apiTable
	logger *slog.Logger
}

func newFallback(opts Options, logger *slog.Logger) *fallback {
	return &fallback{opts: opts, apis: newAPITable(), logger: logger}
}

func (f *fallback) Status() Status {
	return Status{Engine: "inline", Isolated: false}
}

func (f *fallback) RegisterAPI(name string, fn APIFunc) { f.apis.register(name, fn) }
func (f *fallback) UnregisterAPI(name string)           { f.apis.unregister(name) }

func (f *fallback) Dispose() {
	f.apis.clear()
}

func (f *fallback) ExecuteInSandbox(code string, context map[string]any) Result {
	start := time.Now()
	timeout := time.Duration(f.opts.TimeoutMs) * time.Millisecond

	type outcome struct {
		value goja.Value
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		vm := goja.New()
		installConsole(vm, f.logger)
		if context != nil {
			vm.Set("context", context)
		}
		for name, fn := range f.apis.snapshot() {
			vm.Set(name, wrapAPI(vm, fn))
		}
		v, err := runGuarded(vm, code)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start).Milliseconds()
		if out.err != nil {
			return Result{Success: false, Error: out.err.Error(), ExecutionTimeMs: elapsed}
		}
		return Result{Success: true, Value: exportValue(out.value), ExecutionTimeMs: elapsed}

	case <-time.After(timeout):
		// The worker goroutine cannot be preempted; it is abandoned.
		f.logger.Warn("fallback sandbox timeout, execution abandoned",
			"timeout", timeout)
		return Result{
			Success:         false,
			Error:           fmt.Sprintf("%s after %s", timeoutMessage, timeout),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}
}
