package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Snipebot Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Stop loss applied when a signal carries none
default_stop_loss_percent = 10.0
# Trailing stop behaviour
trailing_enabled = true
trailing_distance_percent = 5.0
# Position monitor tick interval
monitor_interval = "5s"

[risk]
max_daily_trades = 15
max_daily_loss_usd = 200.0
max_drawdown_percent = 25.0
max_concurrent_low = 5
max_concurrent_medium = 3
max_concurrent_high = 1
consecutive_loss_limit = 3
consecutive_loss_cap_pct = 2.0
low_confidence_threshold = 40.0
low_confidence_cap_pct = 3.0
medium_tier_cap_pct = 5.0
high_tier_cap_pct = 2.0

# Per-channel tier overrides: "low", "medium", "high"
[risk.channel_tiers]
# "degen-calls" = "high"

[paper]
initial_balance = 1000.0
initial_token_price = 0.000001
base_volatility = 0.02
trend_interval = "1m"
min_latency = "200ms"
max_latency = "1500ms"
reference_liquidity = 10000.0
tick_interval = "1s"
checkpoint_interval = "30s"
# 0 seeds from the clock
seed = 0

[venue]
base_url = ""
api_key = ""
stream_url = ""
timeout = "10s"
slippage_bps = 300

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[storage]
# Defaults to <config dir>/snipebot.db
database_path = ""
`

// createTemplateConfig writes a starter config.toml and reports where
// it was written so the operator can fill it in.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Created template config at %s\n", path)
	return nil
}
