package skills

import (
	"encoding/json"
	"fmt"

	"github.com/openclaw/companion/internal/protocol"
	"github.com/openclaw/companion/internal/sandbox"
)

// registerBuiltins installs the skills every companion ships with.
func (r *Runtime) registerBuiltins() {
	builtins := []*Definition{
		{
			ID:      "system.info",
			Name:    "System Info",
			Version: "1.0.0",
			RunMode: "foreground",
			Enabled: true,
			Execute: execSystemInfo,
		},
		{
			ID:      "file.read",
			Name:    "Read File",
			Version: "1.0.0",
			RunMode: "foreground",
			Enabled: true,
			Permissions: &Permissions{
				FileSystem: true,
			},
			Execute: execFileRead,
		},
		{
			ID:      "file.write",
			Name:    "Write File",
			Version: "1.0.0",
			RunMode: "foreground",
			Enabled: true,
			Permissions: &Permissions{
				FileSystem:     true,
				RequireConfirm: true,
				ConfirmMessage: "Allow writing to a file on this device?",
			},
			Execute: execFileWrite,
		},
		{
			ID:      "script.eval",
			Name:    "Evaluate Script",
			Version: "1.0.0",
			RunMode: "foreground",
			Enabled: true,
			Permissions: &Permissions{
				RequireConfirm: true,
				ConfirmMessage: "Allow running a script on this device?",
			},
			Execute: execScriptEval,
		},
	}
	for _, def := range builtins {
		// Built-ins validate by construction.
		_ = r.RegisterSkill(def)
	}
}

func execSystemInfo(sc *Context, _ json.RawMessage) (any, error) {
	return sc.System.Host(), nil
}

type fileReadParams struct {
	Path string `json:"path"`
}

func execFileRead(sc *Context, params json.RawMessage) (any, error) {
	var p fileReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Path == "" {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, "path is required")
	}
	data, err := sc.System.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}
	return map[string]any{
		"path":    p.Path,
		"content": string(data),
		"size":    len(data),
	}, nil
}

type fileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func execFileWrite(sc *Context, params json.RawMessage) (any, error) {
	var p fileWriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Path == "" {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, "path is required")
	}
	if err := sc.System.WriteFile(p.Path, []byte(p.Content)); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	return map[string]any{
		"path":    p.Path,
		"written": len(p.Content),
	}, nil
}

type scriptEvalParams struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

func execScriptEval(sc *Context, params json.RawMessage) (any, error) {
	if sc.Sandbox == nil {
		return nil, protocol.NewSkillError(protocol.ErrSandboxError, "sandbox is not available")
	}
	var p scriptEvalParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Code == "" {
		return nil, protocol.NewSkillError(protocol.ErrInvalidParams, "code is required")
	}
	res := sc.Sandbox.ExecuteInSandbox(p.Code, p.Context)
	if !res.Success {
		code := protocol.ErrSandboxError
		switch {
		case sandbox.IsResourceLimit(res):
			code = protocol.ErrResourceLimit
		case sandbox.IsTimeout(res):
			code = protocol.ErrTimeout
		}
		return nil, protocol.NewSkillError(code, res.Error)
	}
	return map[string]any{
		"value":           res.Value,
		"executionTimeMs": res.ExecutionTimeMs,
	}, nil
}
