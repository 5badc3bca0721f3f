package realtime

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions("alice", "wss://rt.vibely.app/ws")

	if o.MaxConnectionAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", o.MaxConnectionAttempts)
	}
	if o.TrackerInterval != 5*time.Second {
		t.Errorf("tracker interval = %s, want 5s", o.TrackerInterval)
	}
	if o.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %s, want 15s", o.PollInterval)
	}
	if o.PageSize != 50 {
		t.Errorf("page size = %d, want 50", o.PageSize)
	}
	if o.ReconnectCooldown != 5*o.RetryDelay {
		t.Errorf("cooldown = %s, want five retry delays", o.ReconnectCooldown)
	}
	if err := o.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateRequiresUserAndEndpoint(t *testing.T) {
	o := DefaultOptions("", "wss://rt.vibely.app/ws")
	if err := o.validate(); err == nil {
		t.Error("expected error for missing user id")
	}
	o = DefaultOptions("alice")
	if err := o.validate(); err == nil {
		t.Error("expected error for empty endpoint list")
	}
}

func TestOptionsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	in := DefaultOptions("alice", "wss://a.example/ws", "wss://b.example/ws")
	in.MaxConnectionAttempts = 3
	in.RetryDelay = 4 * time.Second

	if err := SaveOptions(path, &in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}

	if out.UserID != "alice" {
		t.Errorf("user id = %q, want alice", out.UserID)
	}
	if len(out.Endpoints) != 2 || out.Endpoints[1] != "wss://b.example/ws" {
		t.Errorf("endpoints = %v", out.Endpoints)
	}
	if out.MaxConnectionAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", out.MaxConnectionAttempts)
	}
	if out.RetryDelay != 4*time.Second {
		t.Errorf("retry delay = %s, want 4s", out.RetryDelay)
	}
}

func TestLoadOptionsFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	in := Options{UserID: "alice", Endpoints: []string{"wss://a.example/ws"}}
	if err := SaveOptions(path, &in); err != nil {
		t.Fatal(err)
	}

	out, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.PageSize != 50 {
		t.Errorf("page size = %d, want default 50", out.PageSize)
	}
	if out.AckTimeout != 10*time.Second {
		t.Errorf("ack timeout = %s, want default 10s", out.AckTimeout)
	}
}
