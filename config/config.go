package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress         string            `toml:"RPCAddress"`
	DataDir            string            `toml:"DataDir"`
	Environment        string            `toml:"Environment"`
	LogLevel           string            `toml:"LogLevel"`
	LogFile            string            `toml:"LogFile,omitempty"`
	RPCToken           string            `toml:"RPCToken,omitempty"`
	RateLimitPerSecond float64           `toml:"RateLimitPerSecond"`
	RateLimitBurst     int               `toml:"RateLimitBurst"`
	GenesisAlloc       map[string]string `toml:"GenesisAlloc,omitempty"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a freshly persisted default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.GenesisAlloc == nil {
		cfg.GenesisAlloc = map[string]string{}
	}
}

// Alloc parses the genesis allocation into base-unit balances keyed by bech32
// address.
func (c *Config) Alloc() (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(c.GenesisAlloc))
	for addr, raw := range c.GenesisAlloc {
		trimmed := strings.TrimSpace(raw)
		amount, ok := new(big.Int).SetString(trimmed, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis alloc for %s: invalid amount %q", addr, raw)
		}
		out[strings.TrimSpace(addr)] = amount
	}
	return out, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
