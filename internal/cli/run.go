package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/sched"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/trading"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/venue"
)

// newRunCmd starts the trading engine. Signals arrive as JSON objects,
// one per line, on stdin; the upstream Telegram parser pipes them in.
func newRunCmd(app *App) *cobra.Command {
	var closeOnExit bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine, reading signals from stdin",
		Long: `Run starts the background tasks (price simulation or live price feed,
periodic checkpointing) and consumes signal JSON lines from stdin:

  {"token_id":"So1ana...","symbol":"WIF","trade_percent":5,"stop_loss_percent":10,
   "take_profit_targets":[25,50,100],"confidence":80,"source_channel":"alpha-calls"}

The engine stops on EOF or an interrupt, checkpointing state on the way out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), app, closeOnExit)
		},
	}

	cmd.Flags().BoolVar(&closeOnExit, "close-on-exit", false, "liquidate all open positions on shutdown")
	return cmd
}

func runEngine(parent context.Context, app *App, closeOnExit bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks := startBackgroundTasks(ctx, app)
	defer func() {
		for _, t := range tasks {
			t.Stop()
		}
	}()

	app.Logger.Info().
		Str("mode", app.Config.Trading.Mode).
		Msg("engine started, reading signals from stdin")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			handleSignalLine(ctx, app, line)
		}
	}

	app.Logger.Info().Msg("engine shutting down")

	// Shutdown work uses a fresh context; the run context is already
	// cancelled by the time we get here.
	shutdownCtx := context.Background()
	if closeOnExit {
		if err := app.Trader.CloseAll(shutdownCtx, trading.ExitReasonManual); err != nil {
			app.Logger.Error().Err(err).Msg("close-on-exit failed for some positions")
		}
	}
	if err := app.saveSession(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("failed to save session on shutdown")
	}
	return nil
}

func handleSignalLine(ctx context.Context, app *App, line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var sig models.Signal
	if err := json.Unmarshal([]byte(line), &sig); err != nil {
		app.Logger.Warn().Err(err).Msg("skipping malformed signal line")
		return
	}

	result, err := app.Trader.OpenTrade(ctx, &sig)
	if err != nil {
		app.Logger.Error().Err(err).Str("token", sig.TokenID).Msg("open trade failed")
		app.Notifier.NotifyError(err, "open trade "+sig.TokenID)
		return
	}
	if !result.Success {
		app.Logger.Info().
			Str("token", sig.TokenID).
			Str("reason", result.Reason).
			Msg("signal declined")
	}
}

// startBackgroundTasks launches the recurring engine tasks: the paper
// price process (or live trigger checks), and periodic checkpoints.
func startBackgroundTasks(ctx context.Context, app *App) []*sched.Task {
	var tasks []*sched.Task

	if app.Paper != nil {
		tick := sched.NewTask("paper-tick", app.Config.Paper.TickInterval,
			func(tickCtx context.Context) error {
				return app.Paper.Tick(tickCtx)
			},
			sched.WithLogger(app.Logger),
		)
		tick.Start(ctx)
		tasks = append(tasks, tick)
	}

	if app.Dex != nil {
		triggers := sched.NewTask("order-triggers", app.Config.Trading.MonitorInterval,
			func(tickCtx context.Context) error {
				return app.Dex.CheckTriggers(tickCtx)
			},
			sched.WithLogger(app.Logger),
		)
		triggers.Start(ctx)
		tasks = append(tasks, triggers)

		if app.Config.Venue.StreamURL != "" {
			stream := venue.NewPriceStream(app.Config.Venue.StreamURL, func(tick models.Tick) {
				app.Dex.UpdatePrice(tick.TokenID, tick.Price)
			}, app.Logger)
			if err := stream.Start(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("price stream unavailable, using REST prices")
			}
		}
	}

	checkpoint := sched.NewTask("checkpoint", app.Config.Paper.CheckpointInterval,
		func(tickCtx context.Context) error {
			return app.saveSession(tickCtx)
		},
		sched.WithLogger(app.Logger),
	)
	checkpoint.Start(ctx)
	tasks = append(tasks, checkpoint)

	return tasks
}
