package daemon

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ─── Configuration ──────────────────────────────────────────────────────────
// Config is loaded from ~/.guildhall/config.toml. Every field has a default;
// a missing file is not an error. Values that fail validation are replaced
// with their defaults, never with zero — a zero emission percent or claim
// rate would silently disable rewards.

type Config struct {
	API        APIConfig        `toml:"api"`
	Storage    StorageConfig    `toml:"storage"`
	Rewards    RewardsConfig    `toml:"rewards"`
	Emission   EmissionConfig   `toml:"emission"`
	Settlement SettlementConfig `toml:"settlement"`
	Logging    LoggingConfig    `toml:"logging"`
}

type APIConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	MetricsEnabled     bool   `toml:"metrics_enabled"`
	SettlementCacheTTL string `toml:"settlement_cache_ttl"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type RewardsConfig struct {
	Enabled           bool    `toml:"enabled"`
	MinClaimThreshold int64   `toml:"min_claim_threshold"`
	ConversionRate    float64 `toml:"conversion_rate"`
	RequireWallet     bool    `toml:"require_wallet"`
}

type EmissionConfig struct {
	Percent           float64 `toml:"percent"`
	FixedCapPerSprint float64 `toml:"fixed_cap_per_sprint"`
	CarryoverCap      float64 `toml:"carryover_sprint_cap"`
	TreasuryValue     float64 `toml:"treasury_value"`
}

type SettlementConfig struct {
	DisputeWindow string `toml:"dispute_window"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:               "127.0.0.1",
			Port:               8090,
			MetricsEnabled:     true,
			SettlementCacheTTL: "5s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Rewards: RewardsConfig{
			Enabled:           true,
			MinClaimThreshold: 100,
			ConversionRate:    100,
			RequireWallet:     true,
		},
		Emission: EmissionConfig{
			Percent:      5.0,
			CarryoverCap: 3,
		},
		Settlement: SettlementConfig{
			DisputeWindow: "48h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath returns the path the daemon reads its config from.
func DefaultConfigPath() string {
	if env := os.Getenv("GUILDHALL_HOME"); env != "" {
		return filepath.Join(env, "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guildhall", "config.toml")
}

func defaultDataDir() string {
	if env := os.Getenv("GUILDHALL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guildhall")
}

// LoadConfig reads the TOML config at path, layering it over the defaults.
// A missing file returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with defaults. Policy figures fall
// back to their documented defaults rather than zero.
func (c *Config) normalize() {
	def := DefaultConfig()

	if c.API.Port <= 0 || c.API.Port > 65535 {
		c.API.Port = def.API.Port
	}
	if c.API.Host == "" {
		c.API.Host = def.API.Host
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = def.Storage.DataDir
	}
	if !present(c.Rewards.ConversionRate) {
		c.Rewards.ConversionRate = def.Rewards.ConversionRate
	}
	if c.Rewards.MinClaimThreshold < 0 {
		c.Rewards.MinClaimThreshold = def.Rewards.MinClaimThreshold
	}
	if !present(c.Emission.Percent) && !present(c.Emission.FixedCapPerSprint) {
		c.Emission.Percent = def.Emission.Percent
	}
	if c.Emission.CarryoverCap < 0 || math.IsNaN(c.Emission.CarryoverCap) {
		c.Emission.CarryoverCap = def.Emission.CarryoverCap
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = def.Logging.Format
	}
}

func present(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DisputeWindowDuration parses the configured dispute window, falling back
// to the 48h default on any malformed value.
func (c *Config) DisputeWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.Settlement.DisputeWindow)
	if err != nil || d < 0 {
		return 48 * time.Hour
	}
	return d
}

// SettlementCacheTTL parses the settlement read-cache TTL. Zero or a
// malformed value disables the cache.
func (c *Config) SettlementCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.API.SettlementCacheTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Addr returns the host:port the API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
