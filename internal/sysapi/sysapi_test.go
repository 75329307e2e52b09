package sysapi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	api := NewLocal(t.TempDir())

	if err := api.WriteFile("notes/today.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, err := api.ReadFile("notes/today.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestPathEscapeIsRefused(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "outside.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0600); err != nil {
		t.Fatal(err)
	}

	api := NewLocal(dir)
	for _, path := range []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/../outside.txt",
	} {
		data, err := api.ReadFile(path)
		if err == nil && string(data) == "secret" {
			t.Errorf("path %q escaped the root", path)
		}
	}
}

func TestAbsolutePathIsConfined(t *testing.T) {
	api := NewLocal(t.TempDir())

	if err := api.WriteFile("/etc/passwd", []byte("x")); err != nil {
		t.Fatalf("confined write failed: %v", err)
	}
	// The write landed inside the root, not at the real /etc/passwd.
	data, err := api.ReadFile("/etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestHostInfo(t *testing.T) {
	api := NewLocal(t.TempDir())
	info := api.Host()

	if info.Platform == "" || info.Arch == "" {
		t.Errorf("incomplete host info: %+v", info)
	}
	if info.PID != os.Getpid() {
		t.Errorf("unexpected pid %d", info.PID)
	}
	if strings.TrimSpace(info.Uptime) == "" {
		t.Error("uptime missing")
	}
}
