// Package config holds the relay and session configuration types.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr       = ":3030"
	defaultMaxEnvelopeBytes = 64 * 1024
	defaultSendBuffer       = 64
	defaultNegotiationSec   = 30
)

// defaultSTUNServers are used for ICE candidate gathering. No TURN — media
// is expected to flow directly between participants.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Relay is the relay server configuration.
type Relay struct {
	ListenAddr       string `yaml:"listen_addr"`
	MaxEnvelopeBytes int    `yaml:"max_envelope_bytes"`
	SendBuffer       int    `yaml:"send_buffer"` // outbound envelopes queued per participant before it is disconnected
}

// Session is the client-side session configuration.
type Session struct {
	RelayURL           string   `yaml:"relay_url"`
	STUNServers        []string `yaml:"stun_servers"`
	NegotiationTimeout int      `yaml:"negotiation_timeout_sec"` // bound on Offering/Answering before the peer is closed
}

// DefaultRelay returns a Relay with all defaults applied.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:       defaultListenAddr,
		MaxEnvelopeBytes: defaultMaxEnvelopeBytes,
		SendBuffer:       defaultSendBuffer,
	}
}

// DefaultSession returns a Session with all defaults applied. RelayURL has
// no sensible default and must be provided by the caller.
func DefaultSession() Session {
	return Session{
		STUNServers:        defaultSTUNServers,
		NegotiationTimeout: defaultNegotiationSec,
	}
}

// NegotiationDeadline converts the configured timeout to a duration.
func (s Session) NegotiationDeadline() time.Duration {
	return time.Duration(s.NegotiationTimeout) * time.Second
}

// LoadRelay reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// LoadSession reads a YAML file over the defaults. A missing path returns
// the defaults unchanged.
func LoadSession(path string) (Session, error) {
	cfg := DefaultSession()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return Session{}, err
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
