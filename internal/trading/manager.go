// Package trading owns the trade lifecycle: admitting signals through
// the risk gate, opening positions on the venue, placing protective
// orders, and monitoring each position until it closes.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/notify"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/risk"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/sched"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/venue"
)

// ExitReason classifies how a position was closed.
type ExitReason string

const (
	ExitReasonManual       ExitReason = "MANUAL"
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonExternal     ExitReason = "EXTERNAL"
)

// Journal records completed trades.
type Journal interface {
	LogTrade(ctx context.Context, trade *models.Trade) error
}

// Config holds lifecycle behaviour settings.
type Config struct {
	DefaultStopLossPercent  float64
	TrailingEnabled         bool
	TrailingDistancePercent float64
	MonitorInterval         time.Duration
	IsPaper                 bool
}

// DefaultConfig returns the lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStopLossPercent:  10,
		TrailingEnabled:         true,
		TrailingDistancePercent: 5,
		MonitorInterval:         5 * time.Second,
		IsPaper:                 true,
	}
}

// OpenResult reports the outcome of an open attempt. A policy
// rejection sets Success false with a Reason and no error.
type OpenResult struct {
	Success    bool
	Reason     string
	EntryPrice float64
	Quantity   float64
	SpentUSD   float64
	Position   *models.Position
}

// CloseOutcome reports a completed close.
type CloseOutcome struct {
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	PnLPercent float64
	Reason     ExitReason
}

// Manager serializes lifecycle operations per token and keeps the
// position registry. The registry doubles as an advisory lock: a
// second open for a token with an in-flight operation is rejected,
// never queued.
type Manager struct {
	cfg      Config
	venue    venue.Venue
	risk     *risk.Manager
	journal  Journal
	notifier notify.Notifier
	clock    sched.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	positions map[string]*models.Position
	inflight  map[string]struct{}
	monitors  map[string]*monitorState
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, v venue.Venue, rm *risk.Manager, journal Journal, notifier notify.Notifier, clock sched.Clock, logger zerolog.Logger) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = sched.RealClock{}
	}
	return &Manager{
		cfg:       cfg,
		venue:     v,
		risk:      rm,
		journal:   journal,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
		positions: make(map[string]*models.Position),
		inflight:  make(map[string]struct{}),
		monitors:  make(map[string]*monitorState),
	}
}

// OpenTrade runs a signal through the risk gate and, if admitted, buys
// the token and places its protective orders. Failures after the buy
// unwind the position so no partial state survives.
func (m *Manager) OpenTrade(ctx context.Context, sig *models.Signal) (*OpenResult, error) {
	if sig == nil || sig.TokenID == "" {
		return nil, apperrors.NewValidationError("signal", sig, "missing token id")
	}

	if !m.acquire(sig.TokenID) {
		return &OpenResult{Success: false, Reason: "position already open or operation in flight"}, nil
	}
	defer m.release(sig.TokenID)

	balance, err := m.venue.GetBalance(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "querying balance")
	}

	assessment := m.risk.Evaluate(sig, balance, m.OpenPositions())
	if !assessment.Allowed {
		return &OpenResult{Success: false, Reason: joinReasons(assessment.Reasons)}, nil
	}

	usdAmount := balance * assessment.AdjustedTradePercent / 100
	if usdAmount <= 0 {
		return &OpenResult{Success: false, Reason: "computed trade size is zero"}, nil
	}

	buy, err := m.venue.BuyMarket(ctx, sig.TokenID, usdAmount)
	if err != nil {
		m.logger.Warn().Err(err).Str("token", sig.TokenID).Msg("buy failed")
		return nil, apperrors.Wrap(err, "buying token")
	}

	stopPct := sig.StopLossPercent
	if stopPct <= 0 {
		stopPct = m.cfg.DefaultStopLossPercent
	}
	stopPrice := buy.FilledPrice * (1 - stopPct/100)

	stopOrder, err := m.venue.PlaceStopLoss(ctx, sig.TokenID, buy.AmountOut, stopPrice)
	if err != nil {
		m.unwindEntry(ctx, sig.TokenID)
		return nil, apperrors.Wrap(err, "placing stop loss")
	}

	tpOrderIDs, tpPrices := m.placeTakeProfits(ctx, sig, buy)

	pos := &models.Position{
		TokenID:            sig.TokenID,
		Symbol:             sig.Symbol,
		EntryPrice:         buy.FilledPrice,
		Quantity:           buy.AmountOut,
		EntryTime:          m.clock.Now(),
		StopPrice:          stopPrice,
		TakeProfitPrices:   tpPrices,
		SourceChannel:      sig.SourceChannel,
		Tier:               assessment.Tier,
		StopOrderID:        stopOrder.ID,
		TakeProfitOrderIDs: tpOrderIDs,
	}

	m.mu.Lock()
	m.positions[sig.TokenID] = pos
	m.mu.Unlock()

	m.startMonitor(ctx, sig.TokenID)
	m.notifier.NotifyTradeExecution(pos)

	m.logger.Info().
		Str("token", sig.TokenID).
		Str("symbol", sig.Symbol).
		Float64("entry_price", buy.FilledPrice).
		Float64("quantity", buy.AmountOut).
		Float64("spent_usd", buy.SpentUSD).
		Int("risk_score", assessment.RiskScore).
		Msg("position opened")

	return &OpenResult{
		Success:    true,
		EntryPrice: buy.FilledPrice,
		Quantity:   buy.AmountOut,
		SpentUSD:   buy.SpentUSD,
		Position:   pos,
	}, nil
}

// placeTakeProfits splits the filled quantity evenly across the
// signal's targets. A target that fails to place is logged and
// skipped; the stop order already protects the full quantity.
func (m *Manager) placeTakeProfits(ctx context.Context, sig *models.Signal, buy *venue.BuyResult) ([]string, []float64) {
	if len(sig.TakeProfitTargets) == 0 {
		return nil, nil
	}

	perTarget := buy.AmountOut / float64(len(sig.TakeProfitTargets))
	ids := make([]string, 0, len(sig.TakeProfitTargets))
	prices := make([]float64, 0, len(sig.TakeProfitTargets))

	for _, targetPct := range sig.TakeProfitTargets {
		price := buy.FilledPrice * (1 + targetPct/100)
		order, err := m.venue.PlaceTakeProfit(ctx, sig.TokenID, perTarget, price)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("token", sig.TokenID).
				Float64("target_pct", targetPct).
				Msg("take-profit placement failed, skipping target")
			continue
		}
		ids = append(ids, order.ID)
		prices = append(prices, price)
	}
	return ids, prices
}

// unwindEntry liquidates a just-bought position after a later setup
// step failed.
func (m *Manager) unwindEntry(ctx context.Context, tokenID string) {
	if _, err := m.venue.ClosePosition(ctx, tokenID); err != nil {
		m.logger.Error().Err(err).Str("token", tokenID).Msg("failed to unwind entry after setup error")
	}
}

// CloseTrade liquidates the position for tokenID: cancels outstanding
// orders, sells the remainder, stops the monitor, and reports the
// realized result to the risk manager.
func (m *Manager) CloseTrade(ctx context.Context, tokenID string, reason ExitReason) (*CloseOutcome, error) {
	m.mu.Lock()
	pos, ok := m.positions[tokenID]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.ErrPositionNotFound
	}
	if _, busy := m.inflight[tokenID]; busy {
		m.mu.Unlock()
		return nil, apperrors.NewOrderError("", tokenID, "close", "lifecycle operation in flight", nil)
	}
	m.inflight[tokenID] = struct{}{}
	mon := m.monitors[tokenID]
	m.mu.Unlock()
	defer m.release(tokenID)

	if mon != nil {
		mon.task.Stop()
	}
	m.cancelProtectiveOrders(ctx, pos)

	result, err := m.venue.ClosePosition(ctx, tokenID)
	if err != nil {
		return nil, apperrors.Wrap(err, "closing position")
	}

	outcome := m.finalize(ctx, pos, result.ExitPrice, result.Quantity, result.Profit, reason)
	return outcome, nil
}

// CloseAll closes every open position, collecting the first error.
func (m *Manager) CloseAll(ctx context.Context, reason ExitReason) error {
	var firstErr error
	for _, pos := range m.OpenPositions() {
		if _, err := m.CloseTrade(ctx, pos.TokenID, reason); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Error().Err(err).Str("token", pos.TokenID).Msg("close failed during close-all")
		}
	}
	return firstErr
}

func (m *Manager) cancelProtectiveOrders(ctx context.Context, pos *models.Position) {
	ids := append([]string{pos.StopOrderID}, pos.TakeProfitOrderIDs...)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := m.venue.CancelOrder(ctx, id); err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
			m.logger.Debug().Err(err).Str("order_id", id).Msg("order cancel skipped")
		}
	}
}

// finalize deregisters the position, journals the trade, and feeds the
// outcome back into the risk session.
func (m *Manager) finalize(ctx context.Context, pos *models.Position, exitPrice, quantity, pnl float64, reason ExitReason) *CloseOutcome {
	m.mu.Lock()
	delete(m.positions, pos.TokenID)
	delete(m.monitors, pos.TokenID)
	m.mu.Unlock()

	costBasis := pos.EntryPrice * quantity
	pnlPct := 0.0
	if costBasis > 0 {
		pnlPct = pnl / costBasis * 100
	}

	balance, err := m.venue.GetBalance(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("balance query failed after close, peak tracking skipped")
	}
	m.risk.RecordOutcome(pnl, balance)

	trade := &models.Trade{
		ID:            uuid.New().String(),
		TokenID:       pos.TokenID,
		Symbol:        pos.Symbol,
		Quantity:      quantity,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		PnL:           pnl,
		PnLPercent:    pnlPct,
		ExitReason:    string(reason),
		SourceChannel: pos.SourceChannel,
		IsPaper:       m.cfg.IsPaper,
		OpenedAt:      pos.EntryTime,
		ClosedAt:      m.clock.Now(),
	}
	if m.journal != nil {
		if err := m.journal.LogTrade(ctx, trade); err != nil {
			m.logger.Error().Err(err).Str("token", pos.TokenID).Msg("failed to journal trade")
		}
	}

	m.notifier.NotifyTradeExit(pos, string(reason), pnl, pnlPct)

	m.logger.Info().
		Str("token", pos.TokenID).
		Str("reason", string(reason)).
		Float64("exit_price", exitPrice).
		Float64("pnl", pnl).
		Float64("pnl_pct", pnlPct).
		Msg("position closed")

	return &CloseOutcome{
		ExitPrice:  exitPrice,
		Quantity:   quantity,
		PnL:        pnl,
		PnLPercent: pnlPct,
		Reason:     reason,
	}
}

// GetPosition returns a copy of the registered position, or nil.
func (m *Manager) GetPosition(tokenID string) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[tokenID]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// OpenPositions returns copies of all registered positions.
func (m *Manager) OpenPositions() []*models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// acquire takes the per-token advisory lock. It fails when a position
// is already registered or another operation is in flight.
func (m *Manager) acquire(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.positions[tokenID]; open {
		return false
	}
	if _, busy := m.inflight[tokenID]; busy {
		return false
	}
	m.inflight[tokenID] = struct{}{}
	return true
}

func (m *Manager) release(tokenID string) {
	m.mu.Lock()
	delete(m.inflight, tokenID)
	m.mu.Unlock()
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "rejected by risk policy"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out = fmt.Sprintf("%s; %s", out, r)
	}
	return out
}
