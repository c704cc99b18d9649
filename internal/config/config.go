// Package config provides configuration management for the sniper bot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Paper         PaperConfig        `mapstructure:"paper"`
	Venue         VenueConfig        `mapstructure:"venue"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Storage       StorageConfig      `mapstructure:"storage"`
}

// TradingConfig holds trade lifecycle configuration.
type TradingConfig struct {
	Mode                    string        `mapstructure:"mode"` // "live", "paper"
	DefaultStopLossPercent  float64       `mapstructure:"default_stop_loss_percent"`
	TrailingEnabled         bool          `mapstructure:"trailing_enabled"`
	TrailingDistancePercent float64       `mapstructure:"trailing_distance_percent"`
	MonitorInterval         time.Duration `mapstructure:"monitor_interval"`
}

// RiskConfig holds session risk limits.
type RiskConfig struct {
	MaxDailyTrades         int               `mapstructure:"max_daily_trades"`
	MaxDailyLossUSD        float64           `mapstructure:"max_daily_loss_usd"`
	MaxDrawdownPercent     float64           `mapstructure:"max_drawdown_percent"`
	MaxConcurrentLow       int               `mapstructure:"max_concurrent_low"`
	MaxConcurrentMedium    int               `mapstructure:"max_concurrent_medium"`
	MaxConcurrentHigh      int               `mapstructure:"max_concurrent_high"`
	ConsecutiveLossLimit   int               `mapstructure:"consecutive_loss_limit"`
	ConsecutiveLossCapPct  float64           `mapstructure:"consecutive_loss_cap_pct"`
	LowConfidenceThreshold float64           `mapstructure:"low_confidence_threshold"`
	LowConfidenceCapPct    float64           `mapstructure:"low_confidence_cap_pct"`
	MediumTierCapPct       float64           `mapstructure:"medium_tier_cap_pct"`
	HighTierCapPct         float64           `mapstructure:"high_tier_cap_pct"`
	ChannelTiers           map[string]string `mapstructure:"channel_tiers"`
}

// PaperConfig holds paper-trading simulator settings.
type PaperConfig struct {
	InitialBalance     float64       `mapstructure:"initial_balance"`
	InitialTokenPrice  float64       `mapstructure:"initial_token_price"`
	BaseVolatility     float64       `mapstructure:"base_volatility"`
	TrendInterval      time.Duration `mapstructure:"trend_interval"`
	MinLatency         time.Duration `mapstructure:"min_latency"`
	MaxLatency         time.Duration `mapstructure:"max_latency"`
	ReferenceLiquidity float64       `mapstructure:"reference_liquidity"`
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	Seed               int64         `mapstructure:"seed"`
}

// VenueConfig holds live venue connectivity settings.
type VenueConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	StreamURL   string        `mapstructure:"stream_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SlippageBps int           `mapstructure:"slippage_bps"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/snipebot"
	}
	return filepath.Join(home, ".config", "snipebot")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir)
		}
		return err
	}
	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNIPEBOT_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("SNIPEBOT_VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("SNIPEBOT_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("SNIPEBOT_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv("SNIPEBOT_DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "paper"
	}
	if cfg.Trading.DefaultStopLossPercent == 0 {
		cfg.Trading.DefaultStopLossPercent = 10
	}
	if cfg.Trading.TrailingDistancePercent == 0 {
		cfg.Trading.TrailingDistancePercent = 5
	}
	if cfg.Trading.MonitorInterval == 0 {
		cfg.Trading.MonitorInterval = 5 * time.Second
	}
	if cfg.Risk.MaxDailyTrades == 0 {
		cfg.Risk.MaxDailyTrades = 15
	}
	if cfg.Risk.MaxDailyLossUSD == 0 {
		cfg.Risk.MaxDailyLossUSD = 200
	}
	if cfg.Risk.MaxDrawdownPercent == 0 {
		cfg.Risk.MaxDrawdownPercent = 25
	}
	if cfg.Paper.InitialBalance == 0 {
		cfg.Paper.InitialBalance = 1000
	}
	if cfg.Paper.TickInterval == 0 {
		cfg.Paper.TickInterval = time.Second
	}
	if cfg.Paper.CheckpointInterval == 0 {
		cfg.Paper.CheckpointInterval = 30 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(DefaultConfigDir(), "snipebot.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.DefaultStopLossPercent < 0 || c.Trading.DefaultStopLossPercent >= 100 {
		return fmt.Errorf("default_stop_loss_percent must be in [0, 100)")
	}
	if c.Trading.TrailingDistancePercent < 0 || c.Trading.TrailingDistancePercent >= 100 {
		return fmt.Errorf("trailing_distance_percent must be in [0, 100)")
	}
	if c.Risk.MaxDrawdownPercent < 0 || c.Risk.MaxDrawdownPercent > 100 {
		return fmt.Errorf("max_drawdown_percent must be between 0 and 100")
	}
	if c.Paper.MinLatency > c.Paper.MaxLatency {
		return fmt.Errorf("paper min_latency must not exceed max_latency")
	}
	if c.Trading.Mode == "live" && c.Venue.BaseURL == "" {
		return fmt.Errorf("venue base_url is required in live mode")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
