// Package config loads the recognized options of §6 and exposes
// the fixed protocol constants, as a flat, field-per-option struct.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol constants fixed by the wire protocol (spec §6). Never
// configurable.
const (
	WitnessCount                  = 12 // W
	SupermajorityThreshold        = 7  // M = floor(W/2)+1
	MaxWitnessListMutations       = 1
	MaxParentsPerUnit             = 16
	MaxMessagesPerUnit            = 128
	CountMCBallsForPaidWitnessing = 100
	HashLength                   = 44

	// ProtocolVersion and Alt are advertised in every peer's "version"
	// justsaying and must match for a connection to stay open.
	ProtocolVersion = "4.0"
	Alt             = "1"
)

// Config holds the recognized options of spec §6.
type Config struct {
	WitnessAddresses     []string `yaml:"witness_addresses"`
	HubPort              uint16   `yaml:"hub_port"`
	RemoteHubURLs        []string `yaml:"remote_hub_urls"`
	InitialDBPath        string   `yaml:"initial_db_path"`
	IsLight              bool     `yaml:"is_light"`
	StackSizeBytes       uint32   `yaml:"stack_size_bytes"`
	IOWorkers            uint32   `yaml:"io_workers"`
	HeartbeatPeriodMS    uint32   `yaml:"heartbeat_period_ms"`
	PeerRequestTimeoutMS uint32   `yaml:"peer_request_timeout_ms"`

	// Database connection.
	DatabaseURL      string `yaml:"database_url"`
	DatabaseMaxConns int    `yaml:"database_max_conns"`
	DatabaseMinConns int    `yaml:"database_min_conns"`

	// MetricsPort serves /metrics for the Hub Orchestrator's Prometheus
	// collectors; 0 disables the listener.
	MetricsPort uint16 `yaml:"metrics_port"`

	// SigningKeyB64 is the base64-encoded ed25519 private key `cmd/hub`'s
	// send subcommand signs outgoing payments with. Never required by
	// the core: a node can run sync/info/log with no signing identity.
	SigningKeyB64 string `yaml:"signing_key_b64"`
}

// Default returns a Config with §6's suggested defaults.
func Default() *Config {
	return &Config{
		HubPort:              6611,
		MetricsPort:          9611,
		StackSizeBytes:       2 << 20,
		IOWorkers:            4,
		HeartbeatPeriodMS:    3500,
		PeerRequestTimeoutMS: 30000,
		DatabaseMaxConns:     16,
		DatabaseMinConns:     2,
	}
}

// Load reads and parses a YAML config file; it never returns a
// partially-built Config alongside a non-nil error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a non-empty witness_addresses list whose length is
// not WitnessCount. An empty list (the default) is accepted.
func (c *Config) Validate() error {
	if len(c.WitnessAddresses) != 0 && len(c.WitnessAddresses) != WitnessCount {
		return fmt.Errorf("config: witness_addresses must have exactly %d entries, got %d", WitnessCount, len(c.WitnessAddresses))
	}
	return nil
}
