// Package risk gates proposed trades against session-level limits and
// sizes them down when conditions deteriorate.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
)

// Config holds the risk limits for a trading session.
type Config struct {
	MaxDailyTrades     int
	MaxDailyLossUSD    float64
	MaxDrawdownPercent float64 // of peak balance, e.g. 25 means 25%

	// Concurrency caps keyed by signal risk tier.
	MaxConcurrentLow    int
	MaxConcurrentMedium int
	MaxConcurrentHigh   int

	// Soft size caps, as trade percent ceilings.
	ConsecutiveLossLimit   int
	ConsecutiveLossCapPct  float64
	LowConfidenceThreshold float64
	LowConfidenceCapPct    float64
	HighTierCapPct         float64
	MediumTierCapPct       float64

	// ChannelTiers overrides tier derivation per source channel.
	ChannelTiers map[string]models.RiskTier
}

// DefaultConfig returns conservative session limits.
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades:         15,
		MaxDailyLossUSD:        200,
		MaxDrawdownPercent:     25,
		MaxConcurrentLow:       5,
		MaxConcurrentMedium:    3,
		MaxConcurrentHigh:      1,
		ConsecutiveLossLimit:   3,
		ConsecutiveLossCapPct:  2,
		LowConfidenceThreshold: 40,
		LowConfidenceCapPct:    3,
		HighTierCapPct:         2,
		MediumTierCapPct:       5,
	}
}

// SessionState carries the mutable counters for the current session.
type SessionState struct {
	TradesCount       int       `json:"trades_count"`
	TotalLossUSD      float64   `json:"total_loss_usd"`
	TotalProfitUSD    float64   `json:"total_profit_usd"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	PeakBalance       float64   `json:"peak_balance"`
	StartedAt         time.Time `json:"started_at"`
}

// Assessment is the result of evaluating a proposed trade.
type Assessment struct {
	Allowed              bool
	AdjustedTradePercent float64
	RiskScore            int
	Tier                 models.RiskTier
	Reasons              []string
}

// Status summarises remaining headroom for operator display.
type Status struct {
	State           SessionState
	TradesRemaining int
	LossRemaining   float64
	DrawdownPercent float64
	Recommendations []string
}

// Manager evaluates trades against session limits. Evaluate is free of
// side effects; counters change only through RecordOutcome.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.RWMutex
	state SessionState
}

// NewManager creates a risk manager with a fresh session.
func NewManager(cfg Config, startingBalance float64, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		state: SessionState{
			PeakBalance: startingBalance,
			StartedAt:   time.Now(),
		},
	}
}

// Evaluate applies the session rules in order. The first hard limit hit
// rejects the trade; soft rules only shrink the trade percent.
func (m *Manager) Evaluate(sig *models.Signal, currentBalance float64, openPositions []*models.Position) Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tier := m.deriveTier(sig)
	assessment := Assessment{
		Allowed:              true,
		AdjustedTradePercent: sig.TradePercent,
		Tier:                 tier,
	}

	if m.state.TradesCount >= m.cfg.MaxDailyTrades {
		return m.reject(assessment, "daily trade cap reached")
	}
	if m.state.TotalLossUSD >= m.cfg.MaxDailyLossUSD {
		return m.reject(assessment, "daily loss cap reached")
	}
	if m.state.PeakBalance > 0 {
		drawdown := (m.state.PeakBalance - currentBalance) / m.state.PeakBalance * 100
		if drawdown >= m.cfg.MaxDrawdownPercent {
			return m.reject(assessment, "max drawdown reached")
		}
	}
	if len(openPositions) >= m.concurrencyCap(tier) {
		return m.reject(assessment, "concurrent position cap reached for tier "+string(tier))
	}

	if m.state.ConsecutiveLosses >= m.cfg.ConsecutiveLossLimit &&
		assessment.AdjustedTradePercent > m.cfg.ConsecutiveLossCapPct {
		assessment.AdjustedTradePercent = m.cfg.ConsecutiveLossCapPct
		assessment.Reasons = append(assessment.Reasons, "size capped after consecutive losses")
	}
	if sig.Confidence < m.cfg.LowConfidenceThreshold &&
		assessment.AdjustedTradePercent > m.cfg.LowConfidenceCapPct {
		assessment.AdjustedTradePercent = m.cfg.LowConfidenceCapPct
		assessment.Reasons = append(assessment.Reasons, "size capped for low confidence")
	}
	switch tier {
	case models.TierHigh:
		if assessment.AdjustedTradePercent > m.cfg.HighTierCapPct {
			assessment.AdjustedTradePercent = m.cfg.HighTierCapPct
			assessment.Reasons = append(assessment.Reasons, "size capped for high-risk tier")
		}
	case models.TierMedium:
		if assessment.AdjustedTradePercent > m.cfg.MediumTierCapPct {
			assessment.AdjustedTradePercent = m.cfg.MediumTierCapPct
			assessment.Reasons = append(assessment.Reasons, "size capped for medium-risk tier")
		}
	}

	assessment.RiskScore = m.scoreLocked(sig, tier, len(openPositions))
	return assessment
}

func (m *Manager) reject(a Assessment, reason string) Assessment {
	a.Allowed = false
	a.AdjustedTradePercent = 0
	a.Reasons = append(a.Reasons, reason)
	m.logger.Info().Str("reason", reason).Msg("trade rejected by risk policy")
	return a
}

func (m *Manager) concurrencyCap(tier models.RiskTier) int {
	switch tier {
	case models.TierLow:
		return m.cfg.MaxConcurrentLow
	case models.TierHigh:
		return m.cfg.MaxConcurrentHigh
	default:
		return m.cfg.MaxConcurrentMedium
	}
}

// deriveTier classifies the signal from confidence, urgency, and the
// channel override map. Overrides and urgency only move the tier toward
// more risk, never less.
func (m *Manager) deriveTier(sig *models.Signal) models.RiskTier {
	tier := models.TierMedium
	switch {
	case sig.Confidence >= 75:
		tier = models.TierLow
	case sig.Confidence < 40:
		tier = models.TierHigh
	}
	if sig.Urgent {
		tier = models.Riskier(tier, models.TierMedium)
	}
	if override, ok := m.cfg.ChannelTiers[sig.SourceChannel]; ok {
		tier = models.Riskier(tier, override)
	}
	return tier
}

// scoreLocked computes the informational 1-10 risk score. Higher means
// riskier. Requires at least a read lock.
func (m *Manager) scoreLocked(sig *models.Signal, tier models.RiskTier, openCount int) int {
	score := 3

	switch tier {
	case models.TierHigh:
		score += 3
	case models.TierMedium:
		score += 1
	}
	if sig.Confidence < 50 {
		score += 2
	}
	if sig.Urgent {
		score += 1
	}
	score += openCount / 2
	if m.state.ConsecutiveLosses > 0 {
		score += 1
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// RecordOutcome feeds a realized trade result back into the session
// counters. balanceAfter updates the peak used for drawdown checks.
func (m *Manager) RecordOutcome(pnl, balanceAfter float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.TradesCount++
	if pnl < 0 {
		m.state.TotalLossUSD += -pnl
		m.state.ConsecutiveLosses++
	} else {
		m.state.TotalProfitUSD += pnl
		m.state.ConsecutiveLosses = 0
	}
	if balanceAfter > m.state.PeakBalance {
		m.state.PeakBalance = balanceAfter
	}

	m.logger.Info().
		Float64("pnl", pnl).
		Int("trades", m.state.TradesCount).
		Int("consecutive_losses", m.state.ConsecutiveLosses).
		Msg("trade outcome recorded")
}

// GetStatus reports the session counters and remaining headroom.
func (m *Manager) GetStatus(currentBalance float64) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{State: m.state}
	st.TradesRemaining = m.cfg.MaxDailyTrades - m.state.TradesCount
	if st.TradesRemaining < 0 {
		st.TradesRemaining = 0
	}
	st.LossRemaining = m.cfg.MaxDailyLossUSD - m.state.TotalLossUSD
	if st.LossRemaining < 0 {
		st.LossRemaining = 0
	}
	if m.state.PeakBalance > 0 {
		st.DrawdownPercent = (m.state.PeakBalance - currentBalance) / m.state.PeakBalance * 100
		if st.DrawdownPercent < 0 {
			st.DrawdownPercent = 0
		}
	}

	if m.state.ConsecutiveLosses >= m.cfg.ConsecutiveLossLimit {
		st.Recommendations = append(st.Recommendations, "losing streak active, sizes are capped")
	}
	if st.TradesRemaining <= 2 {
		st.Recommendations = append(st.Recommendations, "near daily trade cap")
	}
	if st.DrawdownPercent >= m.cfg.MaxDrawdownPercent*0.8 {
		st.Recommendations = append(st.Recommendations, "approaching max drawdown")
	}
	return st
}

// State returns a copy of the session counters, for persistence.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RestoreState replaces the session counters, for resuming a session
// from storage.
func (m *Manager) RestoreState(state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// ResetSession clears all session counters. Operator action only; the
// engine never calls this on its own.
func (m *Manager) ResetSession(currentBalance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = SessionState{
		PeakBalance: currentBalance,
		StartedAt:   time.Now(),
	}
	m.logger.Info().Float64("balance", currentBalance).Msg("risk session reset")
}
