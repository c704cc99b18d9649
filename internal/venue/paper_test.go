package venue

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
)

// frictionlessConfig removes latency, slippage, and price movement so
// tests can assert exact figures.
func frictionlessConfig() PaperConfig {
	return PaperConfig{
		InitialBalance:     1000,
		InitialTokenPrice:  1.0,
		BaseVolatility:     0,
		MicroSlippageMax:   0,
		ReferenceLiquidity: 1e18,
		MinLatency:         0,
		MaxLatency:         0,
		Seed:               1,
	}
}

func TestBuyMarket_InsufficientFunds(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())

	_, err := p.BuyMarket(context.Background(), "X", 2000)
	if !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, _ := p.GetBalance(context.Background())
	if bal != 1000 || p.RealizedPnL() != 0 {
		t.Fatalf("failed buy must not touch state, balance=%v pnl=%v", bal, p.RealizedPnL())
	}
}

func TestBuyMarket_SlippageCeilingFailsOrder(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.ReferenceLiquidity = 10000
	cfg.SlippageCeiling = 0.0001
	p := NewPaperVenue(cfg)

	// 100 USD against 10k reference liquidity draws at least 1% size
	// impact, far beyond the ceiling.
	_, err := p.BuyMarket(context.Background(), "X", 100)
	if !errors.Is(err, apperrors.ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}

	bal, _ := p.GetBalance(context.Background())
	if bal != 1000 {
		t.Fatalf("failed order must not move balance, got %v", bal)
	}
	if pos, _ := p.GetPosition(context.Background(), "X"); pos != nil {
		t.Fatal("failed order must not create a position")
	}
}

func TestStopOrder_ClosesFullQuantityAndCancelsRest(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())
	ctx := context.Background()

	buy, err := p.BuyMarket(ctx, "X", 50)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if math.Abs(buy.AmountOut-50) > 1e-9 {
		t.Fatalf("expected 50 tokens at price 1.0, got %v", buy.AmountOut)
	}

	if _, err := p.PlaceStopLoss(ctx, "X", buy.AmountOut, 0.8); err != nil {
		t.Fatalf("stop placement failed: %v", err)
	}
	tp, err := p.PlaceTakeProfit(ctx, "X", buy.AmountOut, 1.5)
	if err != nil {
		t.Fatalf("take-profit placement failed: %v", err)
	}

	// Price falls exactly to the trigger.
	p.SetPrice("X", 0.8)

	if pos, _ := p.GetPosition(ctx, "X"); pos != nil {
		t.Fatalf("stop should have closed the position, still holding %+v", pos)
	}
	if got := p.RealizedPnL(); math.Abs(got-(-10)) > 1e-9 {
		t.Fatalf("expected realized loss of -10, got %v", got)
	}
	bal, _ := p.GetBalance(ctx)
	if math.Abs(bal-990) > 1e-9 {
		t.Fatalf("expected balance 990 after stop, got %v", bal)
	}

	// The take-profit was cancelled along with the position.
	if err := p.CancelOrder(ctx, tp.ID); err == nil {
		t.Fatal("take-profit should already be cancelled")
	}

	// A later rally must not fill the dead take-profit.
	p.SetPrice("X", 2.0)
	if got := p.RealizedPnL(); math.Abs(got-(-10)) > 1e-9 {
		t.Fatalf("cancelled order filled after close, pnl=%v", got)
	}
}

func TestLimitOrder_ClosesOwnAllotmentOnly(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())
	ctx := context.Background()

	buy, _ := p.BuyMarket(ctx, "X", 100)
	stop, _ := p.PlaceStopLoss(ctx, "X", buy.AmountOut, 0.5)
	half := buy.AmountOut / 2
	p.PlaceTakeProfit(ctx, "X", half, 1.5)
	p.PlaceTakeProfit(ctx, "X", half, 3.0)

	p.SetPrice("X", 1.5)

	pos, _ := p.GetPosition(ctx, "X")
	if pos == nil {
		t.Fatal("position should survive a partial take-profit")
	}
	if math.Abs(pos.Quantity-half) > 1e-9 {
		t.Fatalf("expected half the quantity remaining, got %v", pos.Quantity)
	}
	// First target: sold 50 tokens at 1.5 against a cost share of 50.
	if got := p.RealizedPnL(); math.Abs(got-25) > 1e-9 {
		t.Fatalf("expected realized profit 25, got %v", got)
	}

	// Stop stays live for the remainder.
	if _, err := p.ModifyOrder(ctx, stop.ID, OrderUpdate{}); err != nil {
		t.Fatalf("stop should still be open: %v", err)
	}

	p.SetPrice("X", 3.0)
	if pos, _ := p.GetPosition(ctx, "X"); pos != nil {
		t.Fatal("second target should have closed the rest")
	}
	if got := p.RealizedPnL(); math.Abs(got-125) > 1e-9 {
		t.Fatalf("expected total realized 125, got %v", got)
	}
}

func TestFullTakeProfit_CancelsSurvivingStop(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())
	ctx := context.Background()

	buy, _ := p.BuyMarket(ctx, "X", 50)
	stop, _ := p.PlaceStopLoss(ctx, "X", buy.AmountOut, 0.5)
	p.PlaceTakeProfit(ctx, "X", buy.AmountOut, 1.5)

	// The single target consumes the whole position.
	p.SetPrice("X", 1.5)
	if pos, _ := p.GetPosition(ctx, "X"); pos != nil {
		t.Fatalf("take-profit should have closed the position, still holding %+v", pos)
	}
	if got := p.RealizedPnL(); math.Abs(got-25) > 1e-9 {
		t.Fatalf("expected realized profit 25, got %v", got)
	}

	// The stop must not outlive the position it protected.
	if err := p.CancelOrder(ctx, stop.ID); err == nil {
		t.Fatal("stop should already be cancelled")
	}

	// A fresh position on the same token is unaffected by the old
	// trigger level.
	rebuy, err := p.BuyMarket(ctx, "X", 50)
	if err != nil {
		t.Fatalf("rebuy failed: %v", err)
	}
	p.SetPrice("X", 0.5)
	pos, _ := p.GetPosition(ctx, "X")
	if pos == nil {
		t.Fatal("stale stop from the previous trade closed the new position")
	}
	if math.Abs(pos.Quantity-rebuy.AmountOut) > 1e-9 {
		t.Fatalf("new position quantity changed: %v", pos.Quantity)
	}
	if got := p.RealizedPnL(); math.Abs(got-25) > 1e-9 {
		t.Fatalf("realized P/L moved without a settle, got %v", got)
	}
}

func TestModifyOrder_RaisesStopTrigger(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())
	ctx := context.Background()

	buy, _ := p.BuyMarket(ctx, "X", 50)
	stop, _ := p.PlaceStopLoss(ctx, "X", buy.AmountOut, 0.8)

	newTrigger := 0.95
	updated, err := p.ModifyOrder(ctx, stop.ID, OrderUpdate{TriggerPrice: &newTrigger})
	if err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	if updated.TriggerPrice != 0.95 {
		t.Fatalf("trigger not updated, got %v", updated.TriggerPrice)
	}

	// Old trigger level no longer applies; new one does.
	p.SetPrice("X", 0.96)
	if pos, _ := p.GetPosition(ctx, "X"); pos == nil {
		t.Fatal("price above the new trigger should not fire the stop")
	}
	p.SetPrice("X", 0.95)
	if pos, _ := p.GetPosition(ctx, "X"); pos != nil {
		t.Fatal("price at the new trigger should fire the stop")
	}
}

func TestTick_PriceFloorAndPositivity(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.BaseVolatility = 2.0 // violent moves to exercise the floor
	cfg.TrendInterval = time.Millisecond
	p := NewPaperVenue(cfg)
	ctx := context.Background()

	p.SetPrice("X", 1.0)
	prev, _ := p.GetCurrentPrice(ctx, "X")
	for i := 0; i < 500; i++ {
		if err := p.Tick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		price, _ := p.GetCurrentPrice(ctx, "X")
		if price <= 0 {
			t.Fatalf("price collapsed to %v on tick %d", price, i)
		}
		if price < prev*0.01-1e-15 {
			t.Fatalf("price %v fell below 1%% floor of %v on tick %d", price, prev, i)
		}
		prev = price
	}
}

func TestLatency_RespectsContextCancellation(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.MinLatency = time.Hour
	cfg.MaxLatency = 2 * time.Hour
	p := NewPaperVenue(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.BuyMarket(ctx, "X", 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt the latency sleep")
	}
	if bal, _ := p.GetBalance(context.Background()); bal != 1000 {
		t.Fatalf("cancelled buy must not move balance, got %v", bal)
	}
}

func TestCheckpoint_ResumesBalancePositionsAndOrders(t *testing.T) {
	p := NewPaperVenue(frictionlessConfig())
	ctx := context.Background()

	buy, _ := p.BuyMarket(ctx, "X", 100)
	p.PlaceStopLoss(ctx, "X", buy.AmountOut, 0.8)

	data, err := MarshalCheckpoint(p.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	cp, err := UnmarshalCheckpoint(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	resumed := NewPaperVenue(frictionlessConfig())
	resumed.Restore(cp)

	bal, _ := resumed.GetBalance(ctx)
	if math.Abs(bal-900) > 1e-9 {
		t.Fatalf("expected resumed balance 900, got %v", bal)
	}
	pos, _ := resumed.GetPosition(ctx, "X")
	if pos == nil || math.Abs(pos.Quantity-buy.AmountOut) > 1e-9 {
		t.Fatalf("position not resumed: %+v", pos)
	}

	// The restored stop order still works.
	resumed.SetPrice("X", 0.8)
	if pos, _ := resumed.GetPosition(ctx, "X"); pos != nil {
		t.Fatal("restored stop order did not fire")
	}
}

func TestUnmarshalCheckpoint_Empty(t *testing.T) {
	if _, err := UnmarshalCheckpoint(nil); !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("expected ErrDataNotFound for empty data, got %v", err)
	}
}

// Property: capital conservation. After any sequence of buys, price
// moves, and closes, cash plus mark-to-market value equals the starting
// balance plus realized P/L plus the unrealized P/L of open holdings;
// once everything is liquidated the unrealized term vanishes and cash
// alone equals start plus realized.
func TestProperty_CapitalConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	type step struct {
		buyUSD    float64
		priceMult float64
		close     bool
	}

	stepGen := gopter.CombineGens(
		gen.Float64Range(1, 80),
		gen.Float64Range(0.2, 5),
		gen.Bool(),
	).Map(func(vals []interface{}) step {
		return step{
			buyUSD:    vals[0].(float64),
			priceMult: vals[1].(float64),
			close:     vals[2].(bool),
		}
	})

	properties.Property("equity equals start plus realized plus unrealized", prop.ForAll(
		func(steps []step) bool {
			p := NewPaperVenue(frictionlessConfig())
			ctx := context.Background()

			tokens := []string{"A", "B", "C"}
			for i, s := range steps {
				token := tokens[i%len(tokens)]

				price, _ := p.GetCurrentPrice(ctx, token)
				p.SetPrice(token, price*s.priceMult)

				if s.close {
					if _, err := p.ClosePosition(ctx, token); err != nil &&
						!errors.Is(err, apperrors.ErrPositionNotFound) {
						t.Logf("close failed: %v", err)
						return false
					}
				} else {
					if bal, _ := p.GetBalance(ctx); bal >= s.buyUSD {
						if _, err := p.BuyMarket(ctx, token, s.buyUSD); err != nil {
							t.Logf("buy failed: %v", err)
							return false
						}
					}
				}

				unrealized := 0.0
				for _, tok := range tokens {
					pos, _ := p.GetPosition(ctx, tok)
					if pos == nil {
						continue
					}
					cur, _ := p.GetCurrentPrice(ctx, tok)
					unrealized += pos.Quantity * (cur - pos.EntryPrice)
				}
				want := p.StartingBalance() + p.RealizedPnL() + unrealized
				if diff := math.Abs(p.Equity() - want); diff > 1e-6*math.Max(1, math.Abs(want)) {
					t.Logf("step %d: equity=%v want=%v diff=%v", i, p.Equity(), want, diff)
					return false
				}
			}

			// Liquidate everything: cash alone must now equal
			// starting balance plus realized P/L.
			for _, token := range tokens {
				if _, err := p.ClosePosition(ctx, token); err != nil &&
					!errors.Is(err, apperrors.ErrPositionNotFound) {
					return false
				}
			}
			bal, _ := p.GetBalance(ctx)
			want := p.StartingBalance() + p.RealizedPnL()
			if diff := math.Abs(bal - want); diff > 1e-6*math.Max(1, math.Abs(want)) {
				t.Logf("final: balance=%v want=%v", bal, want)
				return false
			}
			return true
		},
		gen.SliceOfN(25, stepGen),
	))

	properties.TestingRun(t)
}
