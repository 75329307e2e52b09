package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/dop251/goja"
)

// Interrupt values; the error surfaced for an interrupted execution
// always contains the message that triggered it.
const (
	timeoutMessage     = "execution timed out"
	memoryLimitMessage = "memory limit exceeded"
)

// probeIsolatedEngine verifies the engine can build a VM, run code
// and honor interrupts. Any panic counts as "unavailable".
func probeIsolatedEngine() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	vm := goja.New()
	if _, err := vm.RunString("1 + 1"); err != nil {
		return false
	}
	vm.Interrupt("probe")
	vm.ClearInterrupt()
	return true
}

// isolated runs each execution in a fresh VM. The engine has no host
// access unless a capability is injected, so a new VM plus the safe
// global set is the isolation boundary. The watchdog interrupt is
// enforced by the engine itself and kills synchronous loops; the
// memory budget rides the same interrupt, sampled approximately
// against the process heap (see watchMemory).
type isolated struct {
	opts   Options
	apis   *apiTable
	logger *slog.Logger
}

func newIsolated(opts Options, logger *slog.Logger) *isolated {
	return &isolated{opts: opts, apis: newAPITable(), logger: logger}
}

func (s *isolated) Status() Status {
	return Status{Engine: "goja", Isolated: true}
}

func (s *isolated) RegisterAPI(name string, fn APIFunc) { s.apis.register(name, fn) }
func (s *isolated) UnregisterAPI(name string)           { s.apis.unregister(name) }

func (s *isolated) Dispose() {
	s.apis.clear()
}

func (s *isolated) ExecuteInSandbox(code string, context map[string]any) Result {
	start := time.Now()

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)

	vm := goja.New()
	installConsole(vm, s.logger)
	if context != nil {
		vm.Set("context", context)
	}
	for name, fn := range s.apis.snapshot() {
		vm.Set(name, wrapAPI(vm, fn))
	}

	timeout := time.Duration(s.opts.TimeoutMs) * time.Millisecond
	watchdog := time.AfterFunc(timeout, func() {
		vm.Interrupt(timeoutMessage)
	})
	defer watchdog.Stop()

	if s.opts.MemoryLimitMB > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go watchMemory(vm, memBefore.HeapAlloc, int64(s.opts.MemoryLimitMB)<<20, stop)
	}

	value, err := runGuarded(vm, code)

	elapsed := time.Since(start).Milliseconds()

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	var memUsed int64
	if memAfter.HeapAlloc > memBefore.HeapAlloc {
		memUsed = int64(memAfter.HeapAlloc - memBefore.HeapAlloc)
	}

	if err != nil {
		return Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed,
			MemoryUsedBytes: memUsed,
		}
	}
	return Result{
		Success:         true,
		Value:           exportValue(value),
		ExecutionTimeMs: elapsed,
		MemoryUsedBytes: memUsed,
	}
}

// watchMemory interrupts the VM once the process heap grows past the
// budget. Accounting is approximate: goja has no per-VM heap, so the
// monitor samples the process-wide delta against the baseline taken
// when the execution started.
func watchMemory(vm *goja.Runtime, baseline uint64, limit int64, stop chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.HeapAlloc > baseline && int64(ms.HeapAlloc-baseline) > limit {
				vm.Interrupt(memoryLimitMessage)
				return
			}
		}
	}
}

// runGuarded executes code and normalizes engine panics, interrupts
// and thrown exceptions into errors.
func runGuarded(vm *goja.Runtime, code string) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sandbox panic: %v", r)
		}
	}()
	v, err = vm.RunString(code)
	if err != nil {
		if ie, interrupted := err.(*goja.InterruptedError); interrupted {
			return nil, fmt.Errorf("%v", ie.Value())
		}
		if ex, thrown := err.(*goja.Exception); thrown {
			return nil, fmt.Errorf("%s", ex.Value().String())
		}
		return nil, err
	}
	return v, nil
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// wrapAPI exposes a host function to the VM; a host error becomes a
// thrown exception inside the sandbox.
func wrapAPI(vm *goja.Runtime, fn APIFunc) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		out, err := fn(args...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if out == nil {
			return goja.Undefined()
		}
		return vm.ToValue(out)
	}
}

// installConsole wires console.log/warn/error to the injected logger.
func installConsole(vm *goja.Runtime, logger *slog.Logger) {
	console := vm.NewObject()
	log := func(level slog.Level) func(args ...any) {
		return func(args ...any) {
			logger.Log(context.Background(), level, fmt.Sprint(args...), "source", "sandbox")
		}
	}
	console.Set("log", log(slog.LevelInfo))
	console.Set("info", log(slog.LevelInfo))
	console.Set("warn", log(slog.LevelWarn))
	console.Set("error", log(slog.LevelError))
	vm.Set("console", console)
}
