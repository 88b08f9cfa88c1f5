package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8645" {
		t.Fatalf("unexpected default rpc address %q", cfg.RPCAddress)
	}
	if cfg.RateLimitPerSecond != 5 || cfg.RateLimitBurst != 5 {
		t.Fatalf("unexpected default rate limits %v/%d", cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	// Loading again reads the persisted file.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RPCAddress != cfg.RPCAddress || again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `RPCAddress = ":9999"

[GenesisAlloc]
esc1example = "1000000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9999" {
		t.Fatalf("explicit value overridden: %q", cfg.RPCAddress)
	}
	if cfg.LogLevel != "info" || cfg.Environment != "local" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	alloc, err := cfg.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if alloc["esc1example"].Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("unexpected alloc %v", alloc)
	}
}

func TestAllocRejectsBadAmount(t *testing.T) {
	cfg := &Config{GenesisAlloc: map[string]string{"esc1example": "not-a-number"}}
	if _, err := cfg.Alloc(); err == nil {
		t.Fatalf("expected error for malformed alloc amount")
	}
}
