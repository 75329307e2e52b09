package skills

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/companion/internal/protocol"
	"github.com/openclaw/companion/internal/sandbox"
)

func TestBuiltinSystemInfo(t *testing.T) {
	r := newTestRuntime(approveAll)
	res := exec(t, r, protocol.SkillExecuteRequest{RequestID: "b1", SkillID: "system.info"})
	require.True(t, res.Success, "error: %v", res.Error)

	var info map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &info))
	assert.Equal(t, "test-host", info["hostname"])
}

func TestBuiltinFileReadWrite(t *testing.T) {
	r := newTestRuntime(approveAll)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b2", SkillID: "file.write",
		Params: json.RawMessage(`{"path":"notes.txt","content":"hello"}`),
	})
	require.True(t, res.Success, "error: %v", res.Error)

	res = exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b3", SkillID: "file.read",
		Params: json.RawMessage(`{"path":"notes.txt"}`),
	})
	require.True(t, res.Success, "error: %v", res.Error)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &out))
	assert.Equal(t, "hello", out["content"])
}

func TestBuiltinFileReadInvalidParams(t *testing.T) {
	r := newTestRuntime(approveAll)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b4", SkillID: "file.read", Params: json.RawMessage(`{}`),
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrInvalidParams, res.Error.Code)
}

func TestBuiltinFileReadMissingFile(t *testing.T) {
	r := newTestRuntime(approveAll)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b5", SkillID: "file.read",
		Params: json.RawMessage(`{"path":"missing.txt"}`),
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrExecutionError, res.Error.Code)
}

func TestBuiltinScriptEval(t *testing.T) {
	sb := sandbox.Initialize(sandbox.Options{TimeoutMs: 1000}, nil)
	defer sb.Dispose()
	r := NewRuntime(newFakeSystem(), approveAll, sb, nil)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b6", SkillID: "script.eval",
		Params: json.RawMessage(`{"code":"6 * 7"}`),
	})
	require.True(t, res.Success, "error: %v", res.Error)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Result, &out))
	assert.EqualValues(t, 42, out["value"])
}

func TestBuiltinScriptEvalTimeout(t *testing.T) {
	sb := sandbox.Initialize(sandbox.Options{TimeoutMs: 100}, nil)
	defer sb.Dispose()
	r := NewRuntime(newFakeSystem(), approveAll, sb, nil)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b8", SkillID: "script.eval",
		Params: json.RawMessage(`{"code":"while (true) {}"}`),
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrTimeout, res.Error.Code)
}

func TestBuiltinScriptEvalResourceLimit(t *testing.T) {
	sb := sandbox.Initialize(sandbox.Options{TimeoutMs: 10_000, MemoryLimitMB: 16}, nil)
	defer sb.Dispose()
	r := NewRuntime(newFakeSystem(), approveAll, sb, nil)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b9", SkillID: "script.eval",
		Params: json.RawMessage(`{"code":"const hog = []; while (true) { hog.push(new Array(65536).fill(1)) }"}`),
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrResourceLimit, res.Error.Code)
}

func TestBuiltinScriptEvalWithoutSandbox(t *testing.T) {
	r := newTestRuntime(approveAll)

	res := exec(t, r, protocol.SkillExecuteRequest{
		RequestID: "b7", SkillID: "script.eval",
		Params: json.RawMessage(`{"code":"1"}`),
	})
	require.False(t, res.Success)
	assert.Equal(t, protocol.ErrSandboxError, res.Error.Code)
}
