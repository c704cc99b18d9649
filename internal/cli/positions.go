package cli

import (
	"github.com/spf13/cobra"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/trading"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/pkg/utils"
)

// newPositionsCmd lists open positions with live unrealized P&L.
func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			positions := app.Trader.OpenPositions()

			if out.IsJSON() {
				return out.JSON(positions)
			}
			if len(positions) == 0 {
				out.Println("No open positions")
				return nil
			}

			table := NewTable(out, "SYMBOL", "TOKEN", "ENTRY", "CURRENT", "QTY", "STOP", "UNREALIZED", "TIER")
			for _, pos := range positions {
				current, err := app.Venue.GetCurrentPrice(cmd.Context(), pos.TokenID)
				if err != nil {
					current = pos.EntryPrice
				}
				unrealized := (current - pos.EntryPrice) * pos.Quantity
				table.AddRow(
					pos.Symbol,
					shortToken(pos.TokenID),
					utils.FormatPrice(pos.EntryPrice),
					utils.FormatPrice(current),
					utils.FormatQuantity(pos.Quantity),
					utils.FormatPrice(pos.StopPrice),
					out.PnLString(unrealized, utils.FormatPnL(unrealized)),
					string(pos.Tier),
				)
			}
			table.Render()
			return nil
		},
	}
}

// newCloseCmd liquidates one position, or all with --all.
func newCloseCmd(app *App) *cobra.Command {
	var closeAll bool

	cmd := &cobra.Command{
		Use:   "close [token-id]",
		Short: "Close an open position at market",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			if closeAll {
				if err := app.Trader.CloseAll(cmd.Context(), trading.ExitReasonManual); err != nil {
					return err
				}
				out.Success("All positions closed")
				return app.saveSession(cmd.Context())
			}

			if len(args) == 0 {
				return cmd.Help()
			}
			outcome, err := app.Trader.CloseTrade(cmd.Context(), args[0], trading.ExitReasonManual)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				return out.JSON(outcome)
			}
			out.Success("Closed %s at %s, P&L %s (%s)",
				shortToken(args[0]),
				utils.FormatPrice(outcome.ExitPrice),
				utils.FormatPnL(outcome.PnL),
				utils.FormatPercent(outcome.PnLPercent),
			)
			return app.saveSession(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&closeAll, "all", false, "close every open position")
	return cmd
}

func shortToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return tokenID
	}
	return tokenID[:6] + ".." + tokenID[len(tokenID)-4:]
}
