// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/risk"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Trade journal
	LogTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	GetTradeStats(ctx context.Context, filter TradeFilter) (*TradeStats, error)

	// Venue checkpoints
	SaveCheckpoint(ctx context.Context, name string, data []byte) error
	LoadCheckpoint(ctx context.Context, name string) ([]byte, error)

	// Risk session
	SaveRiskSession(ctx context.Context, state risk.SessionState) error
	LoadRiskSession(ctx context.Context) (*risk.SessionState, error)

	Close() error
}

// TradeFilter narrows trade journal queries.
type TradeFilter struct {
	TokenID       string
	Symbol        string
	SourceChannel string
	ExitReason    string
	StartDate     time.Time
	EndDate       time.Time
	IsPaper       *bool
	Limit         int
}

// TradeStats summarises the filtered trade set.
type TradeStats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	WinRate       float64
	BestPnL       float64
	WorstPnL      float64
}
