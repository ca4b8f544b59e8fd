package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestLoadDefaultsWithNoPeerBlock(t *testing.T) {
	t.Parallel()
	path := writeConf(t, `host = "0.0.0.0"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != defaultServerPort {
		t.Fatalf("server port: got %d want %d", cfg.Server.Port, defaultServerPort)
	}
	if cfg.Peer != nil {
		t.Fatalf("expected no peer block, got %+v", cfg.Peer)
	}
}

func TestLoadPeerBlockAppliesDiscoverDefault(t *testing.T) {
	t.Parallel()
	id := "1111111111111111111111111111111111111111111111111111111111111111"
	network := "2222222222222222222222222222222222222222222222222222222222222222"
	body := `
host = "0.0.0.0"

[peer]
id = "` + id + `"
network = "` + network + `"
contacts = ["10.0.0.5:8004"]
`
	path := writeConf(t, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Peer == nil {
		t.Fatalf("expected peer block")
	}
	if !cfg.Peer.Discover {
		t.Fatalf("expected discover to default true when absent from file")
	}
	if cfg.Peer.Port != defaultPeerPort {
		t.Fatalf("peer port: got %d want %d", cfg.Peer.Port, defaultPeerPort)
	}
}

func TestLoadExplicitDiscoverFalseIsRespected(t *testing.T) {
	t.Parallel()
	id := "1111111111111111111111111111111111111111111111111111111111111111"
	network := "2222222222222222222222222222222222222222222222222222222222222222"
	body := `
[peer]
id = "` + id + `"
network = "` + network + `"
discover = false
`
	path := writeConf(t, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Peer.Discover {
		t.Fatalf("expected discover=false to be respected")
	}
}

func TestLoadRejectsShortPeerID(t *testing.T) {
	t.Parallel()
	body := `
[peer]
id = "deadbeef"
network = "2222222222222222222222222222222222222222222222222222222222222222"
`
	path := writeConf(t, body)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for short peer id")
	}
}

func TestLoadRejectsNonHexNetworkKey(t *testing.T) {
	t.Parallel()
	body := `
[peer]
id = "1111111111111111111111111111111111111111111111111111111111111111"
network = "zzzz111111111111111111111111111111111111111111111111111111111111"
`
	path := writeConf(t, body)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-hex network key")
	}
}

func TestPeerIDAndNetworkKeyParse(t *testing.T) {
	t.Parallel()
	id := "1111111111111111111111111111111111111111111111111111111111111111"
	network := "2222222222222222222222222222222222222222222222222222222222222222"
	cfg := Config{Peer: &PeerConfig{ID: id, Network: network}}

	pid, err := cfg.PeerID()
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	if pid.String() != id {
		t.Fatalf("peer id round trip: got %s want %s", pid.String(), id)
	}

	key, err := cfg.NetworkKey()
	if err != nil {
		t.Fatalf("network key: %v", err)
	}
	if key[0] != 0x22 {
		t.Fatalf("network key first byte: got %x want 0x22", key[0])
	}
}
