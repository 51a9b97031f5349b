package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults verifies the zero-config path.
func TestDefaults(t *testing.T) {
	relay, err := LoadRelay("")
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if relay.ListenAddr != ":3030" || relay.MaxEnvelopeBytes != 64*1024 || relay.SendBuffer != 64 {
		t.Fatalf("relay defaults = %+v", relay)
	}

	sess, err := LoadSession("")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(sess.STUNServers) == 0 {
		t.Fatal("no default STUN servers")
	}
	if sess.NegotiationDeadline() != 30*time.Second {
		t.Fatalf("negotiation deadline = %v", sess.NegotiationDeadline())
	}
}

// TestYAMLOverlay verifies file values override defaults without clobbering
// the rest.
func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := "listen_addr: \":9999\"\nsend_buffer: 8\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	relay, err := LoadRelay(path)
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if relay.ListenAddr != ":9999" || relay.SendBuffer != 8 {
		t.Fatalf("overlay = %+v", relay)
	}
	if relay.MaxEnvelopeBytes != 64*1024 {
		t.Fatalf("default clobbered: %+v", relay)
	}
}

// TestMissingFile verifies an unreadable path is an error, not a silent
// fallback.
func TestMissingFile(t *testing.T) {
	if _, err := LoadRelay(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
