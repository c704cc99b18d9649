package cli

import (
	"github.com/spf13/cobra"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/store"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/pkg/utils"
)

// newStatusCmd shows the risk session headroom and account state.
func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session risk status and balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			balance, err := app.Venue.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			status := app.Risk.GetStatus(balance)

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"mode":    app.Config.Trading.Mode,
					"balance": balance,
					"risk":    status,
				})
			}

			out.Bold("Session (%s mode)", app.Config.Trading.Mode)
			out.Printf("  Balance:            %s\n", utils.FormatUSD(balance))
			if app.Paper != nil {
				out.Printf("  Equity:             %s\n", utils.FormatUSD(app.Paper.Equity()))
				out.Printf("  Realized P&L:       %s\n", utils.FormatPnL(app.Paper.RealizedPnL()))
			}
			out.Printf("  Trades today:       %d (%d remaining)\n",
				status.State.TradesCount, status.TradesRemaining)
			out.Printf("  Session loss:       %s (%s headroom)\n",
				utils.FormatUSD(status.State.TotalLossUSD), utils.FormatUSD(status.LossRemaining))
			out.Printf("  Drawdown:           %s\n", utils.FormatPercent(-status.DrawdownPercent))
			out.Printf("  Consecutive losses: %d\n", status.State.ConsecutiveLosses)
			out.Printf("  Open positions:     %d\n", len(app.Trader.OpenPositions()))

			for _, rec := range status.Recommendations {
				out.Warning("  ! %s", rec)
			}
			return nil
		},
	}
}

// newResetSessionCmd clears the daily risk counters. Deliberately a
// separate operator action so the engine can never unlock itself.
func newResetSessionCmd(app *App) *cobra.Command {
	var confirmed bool
	var resetPaper bool

	cmd := &cobra.Command{
		Use:   "reset-session",
		Short: "Reset daily risk counters (operator action)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			if !confirmed {
				out.Warning("This clears the daily trade count, loss totals, and peak balance.")
				if resetPaper {
					out.Warning("--paper also wipes simulated positions and restores the starting balance.")
				}
				out.Println("Re-run with --yes to confirm.")
				return nil
			}

			if resetPaper {
				if app.Paper == nil {
					out.Error("--paper requires paper mode")
					return nil
				}
				app.Paper.Reset(app.Config.Paper.InitialBalance)
			}

			balance, err := app.Venue.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			app.Risk.ResetSession(balance)
			if err := app.Store.SaveRiskSession(cmd.Context(), app.Risk.State()); err != nil {
				return err
			}
			if resetPaper {
				if err := app.saveSession(cmd.Context()); err != nil {
					return err
				}
				out.Success("Paper account reset to %s", utils.FormatUSD(balance))
			}
			out.Success("Risk session reset, peak balance %s", utils.FormatUSD(balance))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	cmd.Flags().BoolVar(&resetPaper, "paper", false, "also reset the simulated account")
	return cmd
}

// newTradesCmd shows the trade journal.
func newTradesCmd(app *App) *cobra.Command {
	var limit int
	var channel string

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show completed trades and session stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			filter := store.TradeFilter{Limit: limit, SourceChannel: channel}
			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			stats, err := app.Store.GetTradeStats(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"trades": trades,
					"stats":  stats,
				})
			}
			if len(trades) == 0 {
				out.Println("No trades recorded")
				return nil
			}

			table := NewTable(out, "CLOSED", "SYMBOL", "ENTRY", "EXIT", "P&L", "%", "REASON", "CHANNEL")
			for _, t := range trades {
				table.AddRow(
					t.ClosedAt.Format("02 Jan 15:04"),
					t.Symbol,
					utils.FormatPrice(t.EntryPrice),
					utils.FormatPrice(t.ExitPrice),
					out.PnLString(t.PnL, utils.FormatPnL(t.PnL)),
					utils.FormatPercent(t.PnLPercent),
					t.ExitReason,
					t.SourceChannel,
				)
			}
			table.Render()

			out.Println()
			out.Printf("Total: %d trades, win rate %.1f%%, P&L %s (best %s, worst %s)\n",
				stats.TotalTrades, stats.WinRate,
				utils.FormatPnL(stats.TotalPnL),
				utils.FormatPnL(stats.BestPnL),
				utils.FormatPnL(stats.WorstPnL),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 25, "maximum trades to show")
	cmd.Flags().StringVar(&channel, "channel", "", "filter by source channel")
	return cmd
}
