// Package sysapi is the host capability surface handed to skills:
// rooted file access and basic host/process information. The skill
// runtime depends only on the SystemAPI interface so tests can swap
// in fakes.
package sysapi

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// HostInfo describes the machine the companion runs on.
type HostInfo struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	PID      int    `json:"pid"`
	Uptime   string `json:"uptime"`
}

// SystemAPI is what skill execution contexts see of the host.
type SystemAPI interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Host() HostInfo
}

// Local implements SystemAPI against the real host, confining file
// access to a root directory.
type Local struct {
	root    string
	started time.Time
}

// NewLocal creates a SystemAPI rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir, started: time.Now()}
}

// resolve joins the path under the root and refuses escapes.
func (l *Local) resolve(path string) (string, error) {
	full := filepath.Join(l.root, filepath.Clean("/"+path))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes skill root", path)
	}
	return full, nil
}

func (l *Local) ReadFile(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (l *Local) WriteFile(path string, data []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}

func (l *Local) Host() HostInfo {
	host, _ := os.Hostname()
	return HostInfo{
		Hostname: host,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Uptime:   time.Since(l.started).Round(time.Second).String(),
	}
}
