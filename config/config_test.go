package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
listen_ip: "127.0.0.1"
port_range: "60001:60999"
log_level: "debug"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.ListenIP != "127.0.0.1" || cfg.PortRange != "60001:60999" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.ListenIP != "" || cfg.PortRange != "" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default %q, want info", cfg.LogLevel)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		`listen_ip: "example.com"`,
		`port_range: "70000"`,
		`port_range: "9:1"`,
		`log_level: "loud"`,
		`listen_ip: [unterminated`,
	}
	for _, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("Parse(%q) accepted invalid config", doc)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level %q, want warn", cfg.LogLevel)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
