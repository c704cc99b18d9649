package trading

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/risk"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/sched"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/venue"
)

// memJournal records trades in memory.
type memJournal struct {
	trades []*models.Trade
}

func (j *memJournal) LogTrade(ctx context.Context, trade *models.Trade) error {
	j.trades = append(j.trades, trade)
	return nil
}

type testHarness struct {
	paper   *venue.PaperVenue
	risk    *risk.Manager
	journal *memJournal
	manager *Manager
	clock   *sched.ManualClock
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	paper := venue.NewPaperVenue(venue.PaperConfig{
		InitialBalance:     1000,
		InitialTokenPrice:  1.0,
		BaseVolatility:     0,
		MicroSlippageMax:   0,
		ReferenceLiquidity: 1e18,
		Seed:               1,
	})

	riskCfg := risk.DefaultConfig()
	riskCfg.MaxDailyTrades = 1000
	riskCfg.MaxDailyLossUSD = 1e9
	riskCfg.LowConfidenceCapPct = 100
	riskCfg.MediumTierCapPct = 100
	riskCfg.HighTierCapPct = 100
	riskCfg.ConsecutiveLossCapPct = 100
	rm := risk.NewManager(riskCfg, 1000, zerolog.Nop())

	journal := &memJournal{}
	clock := sched.NewManualClock(time.Now())
	mgr := NewManager(cfg, paper, rm, journal, nil, clock, zerolog.Nop())

	return &testHarness{paper: paper, risk: rm, journal: journal, manager: mgr, clock: clock}
}

func snipeSignal() *models.Signal {
	return &models.Signal{
		TokenID:           "X",
		Symbol:            "TKN",
		TradePercent:      5,
		StopLossPercent:   20,
		TakeProfitTargets: []float64{50},
		Confidence:        90,
		SourceChannel:     "alpha-calls",
	}
}

// tick runs one monitor iteration for the token.
func (h *testHarness) tick(t *testing.T, tokenID string) error {
	t.Helper()
	h.manager.mu.Lock()
	mon := h.manager.monitors[tokenID]
	h.manager.mu.Unlock()
	if mon == nil {
		t.Fatalf("no monitor registered for %s", tokenID)
	}
	return h.manager.monitorTick(context.Background(), tokenID, mon)
}

func TestOpenTrade_SizesStopAndTargets(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	result, err := h.manager.OpenTrade(ctx, snipeSignal())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("open rejected: %s", result.Reason)
	}

	// 5% of $1000 at price 1.0.
	if math.Abs(result.SpentUSD-50) > 1e-9 {
		t.Fatalf("expected $50 notional, got %v", result.SpentUSD)
	}
	if math.Abs(result.Quantity-50) > 1e-9 {
		t.Fatalf("expected 50 tokens, got %v", result.Quantity)
	}

	pos := h.manager.GetPosition("X")
	if pos == nil {
		t.Fatal("position not registered")
	}
	if math.Abs(pos.StopPrice-result.EntryPrice*0.8) > 1e-9 {
		t.Fatalf("stop should sit at entry*0.8, got %v", pos.StopPrice)
	}
	if len(pos.TakeProfitOrderIDs) != 1 {
		t.Fatalf("expected one take-profit order, got %d", len(pos.TakeProfitOrderIDs))
	}
	if math.Abs(pos.TakeProfitPrices[0]-result.EntryPrice*1.5) > 1e-9 {
		t.Fatalf("target should sit at entry*1.5, got %v", pos.TakeProfitPrices[0])
	}
}

func TestOpenTrade_SinglePositionPerToken(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	first, err := h.manager.OpenTrade(ctx, snipeSignal())
	if err != nil || !first.Success {
		t.Fatalf("first open should succeed: %v %+v", err, first)
	}

	balBefore, _ := h.paper.GetBalance(ctx)
	second, err := h.manager.OpenTrade(ctx, snipeSignal())
	if err != nil {
		t.Fatalf("duplicate open must be a rejection, not an error: %v", err)
	}
	if second.Success {
		t.Fatal("duplicate open succeeded")
	}
	balAfter, _ := h.paper.GetBalance(ctx)
	if balBefore != balAfter {
		t.Fatal("rejected duplicate moved capital")
	}
	if len(h.manager.OpenPositions()) != 1 {
		t.Fatalf("expected exactly one position, got %d", len(h.manager.OpenPositions()))
	}
}

func TestOpenTrade_TakeProfitPartitioning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sig := snipeSignal()
	sig.TakeProfitTargets = []float64{25, 50, 100}

	result, err := h.manager.OpenTrade(context.Background(), sig)
	if err != nil || !result.Success {
		t.Fatalf("open failed: %v %+v", err, result)
	}

	pos := h.manager.GetPosition("X")
	if len(pos.TakeProfitOrderIDs) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(pos.TakeProfitOrderIDs))
	}
	// Each target is independently triggerable; walking price through
	// them peels off a third at a time.
	h.paper.SetPrice("X", result.EntryPrice*1.25)
	vpos, _ := h.paper.GetPosition(context.Background(), "X")
	if math.Abs(vpos.Quantity-result.Quantity*2/3) > 1e-9 {
		t.Fatalf("first target should close a third, remaining %v", vpos.Quantity)
	}

	h.paper.SetPrice("X", result.EntryPrice*1.5)
	vpos, _ = h.paper.GetPosition(context.Background(), "X")
	if math.Abs(vpos.Quantity-result.Quantity/3) > 1e-9 {
		t.Fatalf("second target should close another third, remaining %v", vpos.Quantity)
	}
}

func TestStopTrigger_ClosesEverything(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	result, err := h.manager.OpenTrade(ctx, snipeSignal())
	if err != nil || !result.Success {
		t.Fatalf("open failed: %v %+v", err, result)
	}

	// Price falls exactly to the stop trigger.
	h.paper.SetPrice("X", result.EntryPrice*0.8)

	// The venue closed the position; the next tick detects it and
	// tears the monitor down.
	err = h.tick(t, "X")
	if !errors.Is(err, sched.ErrStopTask) {
		t.Fatalf("expected monitor self-teardown, got %v", err)
	}

	if h.manager.GetPosition("X") != nil {
		t.Fatal("position still registered after stop")
	}
	if got := h.paper.RealizedPnL(); math.Abs(got-(-10)) > 1e-9 {
		t.Fatalf("expected realized loss -10, got %v", got)
	}
	if len(h.journal.trades) != 1 {
		t.Fatalf("expected one journaled trade, got %d", len(h.journal.trades))
	}
	if h.journal.trades[0].ExitReason != string(ExitReasonStopLoss) {
		t.Fatalf("expected stop-loss exit, got %s", h.journal.trades[0].ExitReason)
	}

	// A second open for the token is allowed again.
	reopen, err := h.manager.OpenTrade(ctx, snipeSignal())
	if err != nil || !reopen.Success {
		t.Fatalf("reopen after close should succeed: %v %+v", err, reopen)
	}
}

func TestCloseTrade_ManualClose(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	result, _ := h.manager.OpenTrade(ctx, snipeSignal())
	h.paper.SetPrice("X", result.EntryPrice*1.2)

	outcome, err := h.manager.CloseTrade(ctx, "X", ExitReasonManual)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if math.Abs(outcome.PnL-10) > 1e-9 {
		t.Fatalf("expected +10 on a 20%% move of $50, got %v", outcome.PnL)
	}
	if h.manager.GetPosition("X") != nil {
		t.Fatal("position still registered after close")
	}

	status := h.risk.GetStatus(1010)
	if status.State.TradesCount != 1 {
		t.Fatalf("close should feed the risk session, trades=%d", status.State.TradesCount)
	}

	if _, err := h.manager.CloseTrade(ctx, "X", ExitReasonManual); err == nil {
		t.Fatal("closing a closed position should error")
	}
}

func TestMonitor_TrailingRatchetsUpOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingDistancePercent = 10
	h := newHarness(t, cfg)
	ctx := context.Background()

	// No targets: nothing may close the position while price rallies.
	sig := snipeSignal()
	sig.TakeProfitTargets = nil

	result, _ := h.manager.OpenTrade(ctx, sig)
	entry := result.EntryPrice
	initialStop := entry * 0.8

	// Price below entry: no ratchet.
	h.paper.SetPrice("X", entry*0.9)
	if err := h.tick(t, "X"); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := h.manager.GetPosition("X").StopPrice; got != initialStop {
		t.Fatalf("stop moved below entry, got %v", got)
	}

	// Price rallies: stop trails at 10% below.
	h.paper.SetPrice("X", entry*1.5)
	if err := h.tick(t, "X"); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	want := entry * 1.5 * 0.9
	if got := h.manager.GetPosition("X").StopPrice; math.Abs(got-want) > 1e-9 {
		t.Fatalf("stop should trail to %v, got %v", want, got)
	}

	// Price retreats but stays above the stop: the stop holds.
	h.paper.SetPrice("X", entry*1.4)
	if err := h.tick(t, "X"); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := h.manager.GetPosition("X").StopPrice; math.Abs(got-want) > 1e-9 {
		t.Fatalf("stop retreated to %v", got)
	}
}

func TestMonitor_TrailingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrailingEnabled = false
	h := newHarness(t, cfg)
	ctx := context.Background()

	sig := snipeSignal()
	sig.TakeProfitTargets = nil

	result, _ := h.manager.OpenTrade(ctx, sig)
	initialStop := result.EntryPrice * 0.8

	h.paper.SetPrice("X", result.EntryPrice*3)
	if err := h.tick(t, "X"); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := h.manager.GetPosition("X").StopPrice; got != initialStop {
		t.Fatalf("stop moved with trailing disabled, got %v", got)
	}
}

func TestMonitor_DetectsPartialTakeProfit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sig := snipeSignal()
	sig.TakeProfitTargets = []float64{50, 100}

	result, _ := h.manager.OpenTrade(context.Background(), sig)

	// First target fires venue-side between monitor ticks.
	h.paper.SetPrice("X", result.EntryPrice*1.5)
	if err := h.tick(t, "X"); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	pos := h.manager.GetPosition("X")
	if math.Abs(pos.Quantity-result.Quantity/2) > 1e-9 {
		t.Fatalf("registry quantity not synced, got %v", pos.Quantity)
	}
}

// vanishedVenue reports the position gone while the underlying book
// still holds its protective orders.
type vanishedVenue struct {
	*venue.PaperVenue
	gone bool
}

func (v *vanishedVenue) GetPosition(ctx context.Context, tokenID string) (*venue.VenuePosition, error) {
	if v.gone {
		return nil, nil
	}
	return v.PaperVenue.GetPosition(ctx, tokenID)
}

func TestMonitor_ExternalCloseCancelsSurvivingOrders(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	wrapped := &vanishedVenue{PaperVenue: h.paper}
	m := NewManager(DefaultConfig(), wrapped, h.risk, h.journal, nil, h.clock, zerolog.Nop())

	result, err := m.OpenTrade(ctx, snipeSignal())
	if err != nil || !result.Success {
		t.Fatalf("open failed: %v %+v", err, result)
	}
	stopID := result.Position.StopOrderID

	wrapped.gone = true
	m.mu.Lock()
	mon := m.monitors["X"]
	m.mu.Unlock()
	if err := m.monitorTick(ctx, "X", mon); !errors.Is(err, sched.ErrStopTask) {
		t.Fatalf("expected monitor self-teardown, got %v", err)
	}

	// The stop the venue never cancelled is gone now.
	if err := h.paper.CancelOrder(ctx, stopID); err == nil {
		t.Fatal("protective stop survived the external close")
	}
	if m.GetPosition("X") != nil {
		t.Fatal("position still registered")
	}
	if len(h.journal.trades) != 1 {
		t.Fatalf("expected one journaled trade, got %d", len(h.journal.trades))
	}
}

// Property: for any price sequence, the stop price never decreases
// between successive monitor evaluations.
func TestProperty_TrailingStopMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("stop price is monotonically non-decreasing", prop.ForAll(
		func(mults []float64) bool {
			h := newHarness(t, DefaultConfig())
			ctx := context.Background()

			// No targets so rallies exercise the ratchet instead of
			// ending the run at the first take-profit.
			sig := snipeSignal()
			sig.TakeProfitTargets = nil

			result, err := h.manager.OpenTrade(ctx, sig)
			if err != nil || !result.Success {
				t.Logf("open failed: %v %+v", err, result)
				return false
			}

			prevStop := h.manager.GetPosition("X").StopPrice
			for _, mult := range mults {
				h.paper.SetPrice("X", result.EntryPrice*mult)

				err := h.tick(t, "X")
				if errors.Is(err, sched.ErrStopTask) {
					// Stop or final target fired venue-side.
					return true
				}
				if err != nil {
					t.Logf("tick failed: %v", err)
					return false
				}

				pos := h.manager.GetPosition("X")
				if pos == nil {
					return true
				}
				if pos.StopPrice < prevStop-1e-12 {
					t.Logf("stop retreated from %v to %v", prevStop, pos.StopPrice)
					return false
				}
				prevStop = pos.StopPrice
			}
			return true
		},
		gen.SliceOfN(20, gen.Float64Range(0.85, 3)),
	))

	properties.TestingRun(t)
}
