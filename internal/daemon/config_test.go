package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8090)
	}
	if !cfg.Rewards.Enabled {
		t.Error("Rewards.Enabled should be true by default")
	}
	if cfg.Rewards.MinClaimThreshold != 100 {
		t.Errorf("Rewards.MinClaimThreshold = %d, want 100", cfg.Rewards.MinClaimThreshold)
	}
	if cfg.Rewards.ConversionRate != 100 {
		t.Errorf("Rewards.ConversionRate = %v, want 100", cfg.Rewards.ConversionRate)
	}
	if cfg.Emission.Percent != 5.0 {
		t.Errorf("Emission.Percent = %v, want 5.0", cfg.Emission.Percent)
	}
	if cfg.Emission.CarryoverCap != 3 {
		t.Errorf("Emission.CarryoverCap = %v, want 3", cfg.Emission.CarryoverCap)
	}
	if got := cfg.DisputeWindowDuration(); got != 48*time.Hour {
		t.Errorf("DisputeWindowDuration() = %v, want 48h", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("missing file should yield defaults, got port %d", cfg.API.Port)
	}
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[api]
port = 9999

[emission]
percent = 2.5
treasury_value = 50000

[settlement]
dispute_window = "1h"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("unset fields should keep defaults, got host %q", cfg.API.Host)
	}
	if cfg.Emission.Percent != 2.5 {
		t.Errorf("Emission.Percent = %v, want 2.5", cfg.Emission.Percent)
	}
	if got := cfg.DisputeWindowDuration(); got != time.Hour {
		t.Errorf("DisputeWindowDuration() = %v, want 1h", got)
	}
}

// Out-of-range policy values fall back to defaults, never to zero: a zero
// conversion rate would make every claim divide by zero downstream.
func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[api]
port = -4

[rewards]
conversion_rate = -1.0

[emission]
percent = -7.0

[settlement]
dispute_window = "soonish"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	def := DefaultConfig()
	if cfg.API.Port != def.API.Port {
		t.Errorf("API.Port = %d, want default %d", cfg.API.Port, def.API.Port)
	}
	if cfg.Rewards.ConversionRate != def.Rewards.ConversionRate {
		t.Errorf("ConversionRate = %v, want default %v", cfg.Rewards.ConversionRate, def.Rewards.ConversionRate)
	}
	if cfg.Emission.Percent != def.Emission.Percent {
		t.Errorf("Emission.Percent = %v, want default %v", cfg.Emission.Percent, def.Emission.Percent)
	}
	if got := cfg.DisputeWindowDuration(); got != 48*time.Hour {
		t.Errorf("DisputeWindowDuration() = %v, want 48h", got)
	}
}

// A fixed cap with no percent is a complete emission policy on its own;
// the percent default must not be re-imposed over it.
func TestLoadConfig_FixedCapOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[emission]
percent = 0.0
fixed_cap_per_sprint = 1200
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Emission.Percent != 0 {
		t.Errorf("Emission.Percent = %v, want 0 (fixed cap governs)", cfg.Emission.Percent)
	}
	if cfg.Emission.FixedCapPerSprint != 1200 {
		t.Errorf("FixedCapPerSprint = %v, want 1200", cfg.Emission.FixedCapPerSprint)
	}
}
