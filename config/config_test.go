package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kp1181/scool/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
peers: ["10.0.0.1:9000", "10.0.0.2:9000"]
rank: 1
unique: true
p: 4
b: 8
local_fraction: 0.25
min_steal_batch: 5
log_level: debug
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.Rank, 1; got != want {
		t.Errorf("rank = %d, want %d", got, want)
	}
	if got, want := len(cfg.Peers), 2; got != want {
		t.Errorf("len(peers) = %d, want %d", got, want)
	}
	if got, want := cfg.LocalFractionOrDefault(), 0.25; got != want {
		t.Errorf("local fraction = %v, want %v", got, want)
	}
	if got, want := cfg.MinStealBatchOrDefault(), 5; got != want {
		t.Errorf("min steal batch = %d, want %d", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
peers: ["localhost:9000"]
rank: 0
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.LocalFractionOrDefault(), 0.20; got != want {
		t.Errorf("default local fraction = %v, want %v", got, want)
	}
	if got, want := cfg.MinStealBatchOrDefault(), 10; got != want {
		t.Errorf("default min steal batch = %d, want %d", got, want)
	}
}

func TestLoadRankOutOfRange(t *testing.T) {
	path := writeConfig(t, `
peers: ["a:1", "b:1"]
rank: 5
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an out-of-range rank")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidateLocalFractionOutOfRange(t *testing.T) {
	cfg := &config.Config{LocalFraction: 1.5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for local_fraction >= 1")
	}
}
