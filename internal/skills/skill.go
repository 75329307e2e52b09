// Package skills holds the registry of executable skills and the
// dispatcher that runs them on the Gateway's behalf: permission
// checks, user confirmation, timeout and cooperative cancellation,
// and result reporting back through the protocol client.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openclaw/companion/internal/sandbox"
	"github.com/openclaw/companion/internal/sysapi"
)

// Permissions is a skill's own policy, applied on top of the
// request-level flags.
type Permissions struct {
	RequireConfirm bool   `json:"requireConfirm,omitempty"`
	ConfirmMessage string `json:"confirmMessage,omitempty"`
	FileSystem     bool   `json:"fileSystem,omitempty"`
	Network        bool   `json:"network,omitempty"`
}

// Context is what a skill body sees while executing. Cancellation is
// cooperative: the body observes Ctx at the points it chooses to.
type Context struct {
	Ctx     context.Context
	System  sysapi.SystemAPI
	Confirm func(ctx context.Context, message string) (bool, error)
	Sandbox sandbox.Sandbox // nil when sandboxing is disabled
	Logger  *slog.Logger
}

// ExecuteFunc is a skill body.
type ExecuteFunc func(sc *Context, params json.RawMessage) (any, error)

// Definition describes one registered skill, keyed by ID.
type Definition struct {
	ID          string
	Name        string
	Version     string
	RunMode     string
	Enabled     bool
	Permissions *Permissions
	Execute     ExecuteFunc
}

// Validate checks the definition before registration.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("skill id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("skill %q: name is required", d.ID)
	}
	if d.Execute == nil {
		return fmt.Errorf("skill %q: execute function is required", d.ID)
	}
	return nil
}
