package protocol

import (
	"strings"
	"testing"
)

func TestParseFrameRequest(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"req","id":"1","method":"connect","params":{"minProtocol":1}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.Type != TypeRequest || f.ID != "1" || f.Method != "connect" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestParseFrameRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"push","id":"1"}`},
		{"missing type", `{"id":"1","method":"connect"}`},
		{"request without id", `{"type":"req","method":"connect"}`},
		{"request without method", `{"type":"req","id":"1"}`},
		{"response without id", `{"type":"res","ok":true}`},
		{"event without method", `{"type":"event","payload":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFrame([]byte(tc.data)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestParseFrameEvent(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"event","method":"connect.challenge","payload":{"nonce":"abc"}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.Method != EventConnectChallenge {
		t.Errorf("expected challenge event, got %q", f.Method)
	}
}

func TestNewRequestMarshalsParams(t *testing.T) {
	f, err := NewRequest("42", MethodHeartbeat, HeartbeatParams{Timestamp: 1700000000000})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(f.Params), "1700000000000") {
		t.Errorf("params not marshaled: %s", f.Params)
	}
}

func TestNewRequestNilParams(t *testing.T) {
	f, err := NewRequest("42", MethodHeartbeat, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Params != nil {
		t.Errorf("expected empty params, got %s", f.Params)
	}
}

func TestFrameErrorString(t *testing.T) {
	e := &FrameError{Code: "AUTH_FAILED", Message: "bad token"}
	if e.Error() != "AUTH_FAILED: bad token" {
		t.Errorf("unexpected error string %q", e.Error())
	}
	e = &FrameError{Message: "bad token"}
	if e.Error() != "bad token" {
		t.Errorf("unexpected error string %q", e.Error())
	}
}

func TestNewErrorResponse(t *testing.T) {
	f := NewErrorResponse("7", "PAIRING_REQUIRED", "pair first")
	if f.Type != TypeResponse || f.OK || f.Error == nil {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if f.Error.Code != "PAIRING_REQUIRED" {
		t.Errorf("unexpected code %q", f.Error.Code)
	}
}
