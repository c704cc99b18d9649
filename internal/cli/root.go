// Package cli provides the command-line interface for the sniper bot.
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/config"
	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/logging"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/notify"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/risk"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/store"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/trading"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/venue"
)

// Version information
const (
	Version = "0.1.0"
)

const paperCheckpointName = "paper"

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.DataStore
	Venue    venue.Venue
	Paper    *venue.PaperVenue
	Dex      *venue.DexVenue
	Risk     *risk.Manager
	Trader   *trading.Manager
	Notifier notify.Notifier
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "snipebot",
		Short: "Telegram signal sniper - speculative token trading bot",
		Long: `Snipebot turns parsed Telegram call-channel signals into managed trades.

Every signal passes a session risk gate before any capital moves. Positions
carry a stop loss, optional take-profit ladder, and a trailing stop that only
ever tightens. Paper mode runs against a built-in venue simulator with
realistic latency and slippage.

Use 'snipebot run' to start the engine, 'snipebot status' for session limits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return app.init(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/snipebot)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(app),
		newStatusCmd(app),
		newPositionsCmd(app),
		newCloseCmd(app),
		newTradesCmd(app),
		newResetSessionCmd(app),
		newVersionCmd(),
	)
	return rootCmd
}

// init wires the store, venue, risk session, and lifecycle manager.
// Called from PersistentPreRunE so every command sees the same setup.
func (a *App) init(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}

	dataStore, err := store.NewSQLiteStore(a.Config.Storage.DatabasePath)
	if err != nil {
		return err
	}
	a.Store = dataStore

	a.Notifier = buildNotifier(a.Config.Notifications, a.Logger)

	var startingBalance float64
	if a.Config.IsPaperMode() {
		paper := venue.NewPaperVenue(paperConfig(a.Config.Paper))
		if data, err := dataStore.LoadCheckpoint(ctx, paperCheckpointName); err == nil {
			cp, err := venue.UnmarshalCheckpoint(data)
			if err != nil {
				a.Logger.Warn().Err(err).Msg("discarding unreadable paper checkpoint")
			} else {
				paper.Restore(cp)
				a.Logger.Info().Time("saved_at", cp.SavedAt).Msg("paper session resumed from checkpoint")
			}
		} else if !errors.Is(err, apperrors.ErrDataNotFound) {
			return err
		}
		a.Paper = paper
		a.Venue = paper
		startingBalance = paper.StartingBalance()
	} else {
		dex := venue.NewDexVenue(venue.DexConfig{
			BaseURL:     a.Config.Venue.BaseURL,
			APIKey:      a.Config.Venue.APIKey,
			Timeout:     a.Config.Venue.Timeout,
			SlippageBps: a.Config.Venue.SlippageBps,
		}, a.Logger)
		a.Dex = dex
		a.Venue = dex

		balCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		startingBalance, err = dex.GetBalance(balCtx)
		if err != nil {
			return err
		}
	}

	a.Risk = risk.NewManager(riskConfig(a.Config.Risk), startingBalance, a.Logger)
	if state, err := dataStore.LoadRiskSession(ctx); err == nil {
		a.Risk.RestoreState(*state)
		a.Logger.Info().Int("trades", state.TradesCount).Msg("risk session resumed")
	} else if !errors.Is(err, apperrors.ErrDataNotFound) {
		return err
	}

	a.Trader = trading.NewManager(
		trading.Config{
			DefaultStopLossPercent:  a.Config.Trading.DefaultStopLossPercent,
			TrailingEnabled:         a.Config.Trading.TrailingEnabled,
			TrailingDistancePercent: a.Config.Trading.TrailingDistancePercent,
			MonitorInterval:         a.Config.Trading.MonitorInterval,
			IsPaper:                 a.Config.IsPaperMode(),
		},
		a.Venue, a.Risk, a.Store, a.Notifier, nil, a.Logger,
	)
	return nil
}

func buildNotifier(cfg config.NotificationConfig, logger zerolog.Logger) notify.Notifier {
	if !cfg.Enabled {
		return notify.Nop{}
	}
	mn := notify.NewMultiNotifier(notify.Level(cfg.Level), logger)
	if cfg.Telegram.Enabled {
		mn.AddChannel(notify.NewTelegramChannel(notify.TelegramConfig{
			Enabled:  true,
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}))
	}
	if cfg.Webhook.Enabled {
		mn.AddChannel(notify.NewWebhookChannel(notify.WebhookConfig{
			Enabled: true,
			URL:     cfg.Webhook.URL,
		}))
	}
	return mn
}

func paperConfig(cfg config.PaperConfig) venue.PaperConfig {
	pc := venue.DefaultPaperConfig()
	if cfg.InitialBalance > 0 {
		pc.InitialBalance = cfg.InitialBalance
	}
	if cfg.InitialTokenPrice > 0 {
		pc.InitialTokenPrice = cfg.InitialTokenPrice
	}
	if cfg.BaseVolatility > 0 {
		pc.BaseVolatility = cfg.BaseVolatility
	}
	if cfg.TrendInterval > 0 {
		pc.TrendInterval = cfg.TrendInterval
	}
	if cfg.MinLatency > 0 {
		pc.MinLatency = cfg.MinLatency
	}
	if cfg.MaxLatency > 0 {
		pc.MaxLatency = cfg.MaxLatency
	}
	if cfg.ReferenceLiquidity > 0 {
		pc.ReferenceLiquidity = cfg.ReferenceLiquidity
	}
	pc.Seed = cfg.Seed
	return pc
}

func riskConfig(cfg config.RiskConfig) risk.Config {
	rc := risk.DefaultConfig()
	if cfg.MaxDailyTrades > 0 {
		rc.MaxDailyTrades = cfg.MaxDailyTrades
	}
	if cfg.MaxDailyLossUSD > 0 {
		rc.MaxDailyLossUSD = cfg.MaxDailyLossUSD
	}
	if cfg.MaxDrawdownPercent > 0 {
		rc.MaxDrawdownPercent = cfg.MaxDrawdownPercent
	}
	if cfg.MaxConcurrentLow > 0 {
		rc.MaxConcurrentLow = cfg.MaxConcurrentLow
	}
	if cfg.MaxConcurrentMedium > 0 {
		rc.MaxConcurrentMedium = cfg.MaxConcurrentMedium
	}
	if cfg.MaxConcurrentHigh > 0 {
		rc.MaxConcurrentHigh = cfg.MaxConcurrentHigh
	}
	if cfg.ConsecutiveLossLimit > 0 {
		rc.ConsecutiveLossLimit = cfg.ConsecutiveLossLimit
	}
	if cfg.ConsecutiveLossCapPct > 0 {
		rc.ConsecutiveLossCapPct = cfg.ConsecutiveLossCapPct
	}
	if cfg.LowConfidenceThreshold > 0 {
		rc.LowConfidenceThreshold = cfg.LowConfidenceThreshold
	}
	if cfg.LowConfidenceCapPct > 0 {
		rc.LowConfidenceCapPct = cfg.LowConfidenceCapPct
	}
	if cfg.MediumTierCapPct > 0 {
		rc.MediumTierCapPct = cfg.MediumTierCapPct
	}
	if cfg.HighTierCapPct > 0 {
		rc.HighTierCapPct = cfg.HighTierCapPct
	}
	if len(cfg.ChannelTiers) > 0 {
		rc.ChannelTiers = make(map[string]models.RiskTier, len(cfg.ChannelTiers))
		for ch, tier := range cfg.ChannelTiers {
			rc.ChannelTiers[ch] = models.RiskTier(tier)
		}
	}
	return rc
}

// saveSession persists the venue checkpoint and risk counters.
func (a *App) saveSession(ctx context.Context) error {
	if a.Paper != nil {
		data, err := venue.MarshalCheckpoint(a.Paper.Snapshot())
		if err != nil {
			return err
		}
		if err := a.Store.SaveCheckpoint(ctx, paperCheckpointName, data); err != nil {
			return err
		}
	}
	return a.Store.SaveRiskSession(ctx, a.Risk.State())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("snipebot %s\n", Version)
		},
	}
}
