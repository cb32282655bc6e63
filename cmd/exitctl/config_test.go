package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()

	exitsPath := filepath.Join(dir, "exits.txt")
	exitsContent := `
# measurement set
CCCC3333
DDDD4444  # staging relay
`
	if err := os.WriteFile(exitsPath, []byte(exitsContent), 0o644); err != nil {
		t.Fatalf("write exits file: %v", err)
	}

	path := filepath.Join(dir, "config.toml")
	content := `
control_addr = "127.0.0.1:8051"
control_password = "opensesame"
socks_addr = "127.0.0.1:8050"
status_addr = "127.0.0.1:8400"
cors_origins = ["http://localhost:3000"]
module = ["connprobe"]
exits = ["AAAA1111", " BBBB2222 ", ""]
exits_file = "` + exitsPath + `"
launch_rate = 2.5
launch_burst = 3
queue_depth = 32
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ControlAddr != "127.0.0.1:8051" {
		t.Fatalf("unexpected control addr: %q", cfg.ControlAddr)
	}
	if cfg.ControlPassword != "opensesame" {
		t.Fatalf("unexpected control password: %q", cfg.ControlPassword)
	}
	if cfg.SocksAddr != "127.0.0.1:8050" {
		t.Fatalf("unexpected socks addr: %q", cfg.SocksAddr)
	}
	if cfg.StatusAddr != "127.0.0.1:8400" {
		t.Fatalf("unexpected status addr: %q", cfg.StatusAddr)
	}
	if len(cfg.Module) != 1 || cfg.Module[0] != "connprobe" {
		t.Fatalf("unexpected module: %v", cfg.Module)
	}
	want := []string{"AAAA1111", "BBBB2222", "CCCC3333", "DDDD4444"}
	if len(cfg.Exits) != len(want) {
		t.Fatalf("unexpected exits: %v", cfg.Exits)
	}
	for i, fpr := range want {
		if cfg.Exits[i] != fpr {
			t.Fatalf("exit %d: got %q want %q", i, cfg.Exits[i], fpr)
		}
	}
	if cfg.LaunchRate != 2.5 || cfg.LaunchBurst != 3 || cfg.QueueDepth != 32 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
}

func TestLoadServiceConfigKeepsDefaultsForOmittedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`exits = ["AAAA1111"]`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ControlAddr != "127.0.0.1:9051" || cfg.SocksAddr != "127.0.0.1:9050" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("status surface should default to off")
	}
}

func TestLoadServiceConfigRejectsEmptyModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`module = []`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected error for empty module")
	}
}

func TestLoadServiceConfigMissingFile(t *testing.T) {
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
