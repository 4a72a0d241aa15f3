package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.SessionAckTimeout != 5*time.Second {
		t.Fatalf("SessionAckTimeout = %v, want 5s", cfg.SessionAckTimeout)
	}
	if cfg.DispatchEnabled() {
		t.Fatalf("DispatchEnabled() = true without provider credentials")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"RELAY_SESSION_ACK_TIMEOUT", "100ms"},
		{"RELAY_SESSION_ACK_TIMEOUT", "nope"},
		{"DISPATCH_POLL_INTERVAL", "10ms"},
		{"CALL_MAX_RETRIES", "-1"},
		{"CALL_MAX_RETRIES", "five"},
		{"PUBLIC_BASE_URL", "not a url"},
	}
	for _, tc := range cases {
		t.Setenv(tc.key, tc.value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q: expected error", tc.key, tc.value)
		}
		t.Setenv(tc.key, "")
	}
}

func TestDispatchEnabled(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	t.Setenv("PUBLIC_BASE_URL", "https://calls.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.DispatchEnabled() {
		t.Fatalf("DispatchEnabled() = false, want true")
	}
}
