package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Pairs) != 4 {
		t.Errorf("expected 4 default pairs, got %d: %v", len(cfg.Pairs), cfg.Pairs)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("unexpected default listen_addr: %s", cfg.ListenAddr)
	}
	if cfg.SnapshotIntervalSecs != 5 {
		t.Errorf("unexpected default snapshot_interval_secs: %d", cfg.SnapshotIntervalSecs)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("PAIRS", "BTC,ETH")
	t.Setenv("RETENTION_WINDOW_SECS", "120")
	t.Setenv("SNAPSHOT_INTERVAL_SECS", "10")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Pairs) != 2 || cfg.Pairs[0] != "BTC" || cfg.Pairs[1] != "ETH" {
		t.Errorf("expected env-overridden pairs [BTC ETH], got %v", cfg.Pairs)
	}
	if cfg.RetentionWindowSecs != 120 {
		t.Errorf("expected retention_window_secs=120, got %d", cfg.RetentionWindowSecs)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "listen_addr: 127.0.0.1:9090\nbroadcast_capacity: 512\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("expected listen_addr from file, got %s", cfg.ListenAddr)
	}
	if cfg.BroadcastCapacity != 512 {
		t.Errorf("expected broadcast_capacity from file, got %d", cfg.BroadcastCapacity)
	}
}

func TestValidateRejectsEmptyPairs(t *testing.T) {
	cfg := &Config{
		Pairs:                  nil,
		ListenAddr:             "x",
		UpstreamURL:            "x",
		SnapshotIntervalSecs:   5,
		RetentionWindowSecs:    60,
		BroadcastCapacity:      256,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty pairs, got nil")
	}
}

func TestValidateRejectsRetentionSmallerThanInterval(t *testing.T) {
	cfg := &Config{
		Pairs:                []string{"BTC"},
		ListenAddr:           "x",
		UpstreamURL:          "x",
		SnapshotIntervalSecs: 30,
		RetentionWindowSecs:  10,
		BroadcastCapacity:    256,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for retention < interval, got nil")
	}
}
