package trading

import (
	"context"
	"fmt"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/sched"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/venue"
)

// monitorState tracks per-position monitoring data between ticks.
type monitorState struct {
	task      *sched.Task
	lastPrice float64
	raised    bool // trailing ratchet has moved the stop at least once
}

// startMonitor launches the recurring per-position task. It watches
// for externally-triggered closure and partial take-profit fills, and
// ratchets the stop upward when trailing is enabled. One tick failing
// does not end the task.
func (m *Manager) startMonitor(ctx context.Context, tokenID string) {
	mon := &monitorState{}
	task := sched.NewTask(
		fmt.Sprintf("monitor-%s", tokenID),
		m.cfg.MonitorInterval,
		func(tickCtx context.Context) error {
			return m.monitorTick(tickCtx, tokenID, mon)
		},
		sched.WithClock(m.clock),
		sched.WithLogger(m.logger),
	)
	mon.task = task

	m.mu.Lock()
	m.monitors[tokenID] = mon
	m.mu.Unlock()

	task.Start(ctx)
}

func (m *Manager) monitorTick(ctx context.Context, tokenID string, mon *monitorState) error {
	m.mu.Lock()
	pos, open := m.positions[tokenID]
	_, busy := m.inflight[tokenID]
	var snapshot models.Position
	if open {
		snapshot = *pos
	}
	m.mu.Unlock()

	if !open {
		return sched.ErrStopTask
	}
	if busy {
		// A lifecycle operation owns the token right now.
		return nil
	}

	vpos, err := m.venue.GetPosition(ctx, tokenID)
	if err != nil {
		return err
	}
	if vpos == nil {
		m.handleExternalClose(ctx, &snapshot, mon)
		return sched.ErrStopTask
	}

	if vpos.Quantity < snapshot.Quantity*(1-1e-9) {
		m.syncQuantity(tokenID, vpos.Quantity)
		snapshot.Quantity = vpos.Quantity
	}

	price, err := m.venue.GetCurrentPrice(ctx, tokenID)
	if err != nil {
		return err
	}
	mon.lastPrice = price

	if m.cfg.TrailingEnabled && price > snapshot.EntryPrice {
		if err := m.ratchetStop(ctx, tokenID, &snapshot, mon, price); err != nil {
			return err
		}
	}
	return nil
}

// ratchetStop raises the stop trigger to trail the observed price. The
// stop only ever moves up.
func (m *Manager) ratchetStop(ctx context.Context, tokenID string, pos *models.Position, mon *monitorState, price float64) error {
	candidate := price * (1 - m.cfg.TrailingDistancePercent/100)
	if candidate <= pos.StopPrice {
		return nil
	}

	_, err := m.venue.ModifyOrder(ctx, pos.StopOrderID, venue.OrderUpdate{TriggerPrice: &candidate})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if live, ok := m.positions[tokenID]; ok {
		live.StopPrice = candidate
	}
	m.mu.Unlock()
	pos.StopPrice = candidate
	mon.raised = true

	m.logger.Debug().
		Str("token", tokenID).
		Float64("price", price).
		Float64("new_stop", candidate).
		Msg("trailing stop raised")
	return nil
}

// syncQuantity records a partial fill observed on the venue, typically
// a take-profit target that triggered between ticks.
func (m *Manager) syncQuantity(tokenID string, quantity float64) {
	m.mu.Lock()
	if live, ok := m.positions[tokenID]; ok {
		live.Quantity = quantity
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("token", tokenID).
		Float64("remaining_quantity", quantity).
		Msg("partial take-profit detected")
}

// handleExternalClose finishes the bookkeeping for a position the
// venue closed on its own, usually a triggered stop or final
// take-profit. The realized result is estimated from the last observed
// price since the fill happened outside the lifecycle path.
func (m *Manager) handleExternalClose(ctx context.Context, pos *models.Position, mon *monitorState) {
	// The venue cancels siblings of a full stop fill, but an order that
	// survived (a stop after full take-profit consumption) must not
	// linger into the token's next trade.
	m.cancelProtectiveOrders(ctx, pos)

	exitPrice := mon.lastPrice
	if exitPrice <= 0 {
		exitPrice = pos.StopPrice
	}

	reason := ExitReasonTakeProfit
	if exitPrice <= pos.StopPrice {
		reason = ExitReasonStopLoss
		if mon.raised {
			reason = ExitReasonTrailingStop
		}
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	m.finalize(ctx, pos, exitPrice, pos.Quantity, pnl, reason)
}
