package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_CreatesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("template config was not written: %v", err)
	}
	if cfg.Trading.Mode != "paper" {
		t.Fatalf("expected paper mode default, got %q", cfg.Trading.Mode)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[trading]
mode = "paper"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Trading.DefaultStopLossPercent != 10 {
		t.Errorf("expected stop-loss default 10, got %v", cfg.Trading.DefaultStopLossPercent)
	}
	if cfg.Trading.MonitorInterval != 5*time.Second {
		t.Errorf("expected monitor interval 5s, got %v", cfg.Trading.MonitorInterval)
	}
	if cfg.Risk.MaxDailyTrades != 15 {
		t.Errorf("expected daily trade cap 15, got %v", cfg.Risk.MaxDailyTrades)
	}
	if cfg.Risk.MaxDailyLossUSD != 200 {
		t.Errorf("expected daily loss cap 200, got %v", cfg.Risk.MaxDailyLossUSD)
	}
	if cfg.Paper.InitialBalance != 1000 {
		t.Errorf("expected paper balance 1000, got %v", cfg.Paper.InitialBalance)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("expected a database path default")
	}
}

func TestLoad_ReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[trading]
mode = "paper"
default_stop_loss_percent = 20.0
trailing_enabled = true
trailing_distance_percent = 8.0
monitor_interval = "2s"

[risk]
max_daily_trades = 30
channel_tiers = { "alpha-calls" = "low", "degen-plays" = "high" }

[paper]
initial_balance = 5000.0
seed = 42
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Trading.DefaultStopLossPercent != 20 {
		t.Errorf("expected stop-loss 20, got %v", cfg.Trading.DefaultStopLossPercent)
	}
	if cfg.Trading.MonitorInterval != 2*time.Second {
		t.Errorf("expected monitor interval 2s, got %v", cfg.Trading.MonitorInterval)
	}
	if cfg.Risk.MaxDailyTrades != 30 {
		t.Errorf("expected daily trade cap 30, got %v", cfg.Risk.MaxDailyTrades)
	}
	if tier := cfg.Risk.ChannelTiers["degen-plays"]; tier != "high" {
		t.Errorf("expected channel tier high, got %q", tier)
	}
	if cfg.Paper.InitialBalance != 5000 {
		t.Errorf("expected paper balance 5000, got %v", cfg.Paper.InitialBalance)
	}
	if cfg.Paper.Seed != 42 {
		t.Errorf("expected seed 42, got %v", cfg.Paper.Seed)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[trading]
mode = "paper"

[venue]
base_url = "https://dex.example.com"
api_key = "from-file"
`)

	t.Setenv("SNIPEBOT_MODE", "live")
	t.Setenv("SNIPEBOT_VENUE_API_KEY", "from-env")
	t.Setenv("SNIPEBOT_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Trading.Mode != "live" {
		t.Errorf("expected env mode override, got %q", cfg.Trading.Mode)
	}
	if cfg.Venue.APIKey != "from-env" {
		t.Errorf("expected env api key override, got %q", cfg.Venue.APIKey)
	}
	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("expected env database path, got %q", cfg.Storage.DatabasePath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"paper defaults are valid", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Trading.Mode = "dry-run" }, true},
		{"negative stop loss", func(c *Config) { c.Trading.DefaultStopLossPercent = -1 }, true},
		{"stop loss at 100", func(c *Config) { c.Trading.DefaultStopLossPercent = 100 }, true},
		{"trailing distance at 100", func(c *Config) { c.Trading.TrailingDistancePercent = 100 }, true},
		{"drawdown over 100", func(c *Config) { c.Risk.MaxDrawdownPercent = 150 }, true},
		{"inverted latency bounds", func(c *Config) {
			c.Paper.MinLatency = time.Second
			c.Paper.MaxLatency = time.Millisecond
		}, true},
		{"live without base url", func(c *Config) { c.Trading.Mode = "live" }, true},
		{"live with base url", func(c *Config) {
			c.Trading.Mode = "live"
			c.Venue.BaseURL = "https://dex.example.com"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestIsPaperMode(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if !cfg.IsPaperMode() {
		t.Fatal("default config should be paper mode")
	}
	cfg.Trading.Mode = "live"
	if cfg.IsPaperMode() {
		t.Fatal("live config reported as paper")
	}
}

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}
