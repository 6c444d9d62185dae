package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"realmsync.ai/internal/protocol"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadClient_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := LoadClient("")
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.QueueCap != 10 || cfg.Reconnect.Min() != 200*time.Millisecond || cfg.Reconnect.Max() != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadClient_FileAndEnv(t *testing.T) {
	p := writeFile(t, "client.yaml", `
url: ws://example.test:9000/v1/ws
player_name: " Aria "
journal: false
extra_exempt_zones:
  - {map: dungeon, room: boss}
`)
	t.Setenv("RS_CLIENT_JOURNAL", "true")
	cfg, err := LoadClient(p)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.URL != "ws://example.test:9000/v1/ws" || cfg.PlayerName != "Aria" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.Journal {
		t.Fatalf("env override not applied")
	}
	zs := cfg.ExemptZones()
	if len(zs) != 1 || zs[0] != (protocol.Zone{Map: "dungeon", Room: "boss"}) {
		t.Fatalf("exempt zones=%v", zs)
	}
}

func TestLoadClient_RejectsBadURL(t *testing.T) {
	p := writeFile(t, "client.yaml", "url: http://example.test/\n")
	if _, err := LoadClient(p); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestLoadServer(t *testing.T) {
	cfg, err := LoadServer("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !cfg.Throttle.Enabled || cfg.Throttle.IntervalMS != 10000 || len(cfg.ExemptZones) != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	p := writeFile(t, "server.yaml", `
listen: 127.0.0.1:9999
throttle:
  enabled: true
  interval_ms: 0
  override_allowed: false
exempt_zones:
  - {map: wb}
`)
	if _, err := LoadServer(p); err == nil {
		t.Fatalf("expected half-specified zone to fail")
	}

	p = writeFile(t, "server.yaml", `
listen: 127.0.0.1:9999
throttle: {enabled: true, interval_ms: 0, override_allowed: false}
`)
	t.Setenv("RS_THROTTLE_OVERRIDE_ALLOWED", "1")
	cfg, err = LoadServer(p)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	w := cfg.Throttle.Wire()
	if w.IntervalMS != 10000 || !w.OverrideAllowed || cfg.Listen != "127.0.0.1:9999" {
		t.Fatalf("unexpected: %+v listen=%s", w, cfg.Listen)
	}
}

func TestLoadServer_MissingFile(t *testing.T) {
	if _, err := LoadServer(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
