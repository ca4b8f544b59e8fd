// Package config loads and validates the node's TOML configuration file
// (spec.md §6).
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"hexnode/internal/peerid"
)

// PeerConfig is the optional [peer] block enabling the replication and
// gossip subsystems. A node with no peer block runs its metadata RPC
// surface only, with no overlay participation.
type PeerConfig struct {
	ID       string   `toml:"id"`
	Network  string   `toml:"network"`
	Port     uint16   `toml:"port"`
	Contacts []string `toml:"contacts"`
	Discover bool     `toml:"discover"`
	SyncAll  bool     `toml:"sync_all"`
}

// ServerConfig carries the metadata RPC listener's settings.
type ServerConfig struct {
	Port uint16 `toml:"port"`
}

// Config is the root of conf.toml.
type Config struct {
	Host   string       `toml:"host"`
	Server ServerConfig `toml:"server"`
	Peer   *PeerConfig  `toml:"peer"`
}

const (
	defaultServerPort = 8004
	defaultPeerPort   = 8004
)

// Default returns a Config with no peer block and the documented
// defaults applied.
func Default() Config {
	return Config{
		Host:   "0.0.0.0",
		Server: ServerConfig{Port: defaultServerPort},
	}
}

// Load reads and validates the TOML file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Peer != nil {
		if cfg.Peer.Port == 0 {
			cfg.Peer.Port = defaultPeerPort
		}
		if !discoverKeyPresent(raw) {
			// go-toml leaves an absent bool key at its zero value, but
			// the documented default for discover is true; only an
			// explicit `discover = false` in the file disables it.
			cfg.Peer.Discover = true
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func discoverKeyPresent(raw []byte) bool {
	var probe struct {
		Peer map[string]any `toml:"peer"`
	}
	if err := toml.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, present := probe.Peer["discover"]
	return present
}

// Validate checks the invariants spec.md §6 calls fatal at startup: the
// peer id and network key, when present, must each be 64 hex characters
// (32 bytes).
func Validate(cfg Config) error {
	if cfg.Peer == nil {
		return nil
	}
	if err := validateHex32("peer.id", cfg.Peer.ID); err != nil {
		return err
	}
	if err := validateHex32("peer.network", cfg.Peer.Network); err != nil {
		return err
	}
	return nil
}

func validateHex32(field, value string) error {
	if len(value) != 64 {
		return fmt.Errorf("config: %s must be 64 hex characters (32 bytes), got %d", field, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return fmt.Errorf("config: %s is not valid hex: %w", field, err)
	}
	return nil
}

// PeerID parses cfg.Peer.ID, which Validate has already checked is
// well-formed hex.
func (c Config) PeerID() (peerid.ID, error) {
	if c.Peer == nil {
		return peerid.ID{}, fmt.Errorf("config: no peer block configured")
	}
	return peerid.Parse(c.Peer.ID)
}

// NetworkKey parses cfg.Peer.Network into the 32-byte shared secret.
func (c Config) NetworkKey() ([32]byte, error) {
	var key [32]byte
	if c.Peer == nil {
		return key, fmt.Errorf("config: no peer block configured")
	}
	raw, err := hex.DecodeString(c.Peer.Network)
	if err != nil {
		return key, fmt.Errorf("config: decode network key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("config: network key must decode to 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
