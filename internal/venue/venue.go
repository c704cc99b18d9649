// Package venue provides trade-execution venue interfaces and implementations.
package venue

import (
	"context"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
)

// Venue defines the capability contract for trade execution.
// Two implementations exist: a live DEX client and a paper-trading
// simulator. Callers must tolerate latency in the hundreds of
// milliseconds on fill operations.
type Venue interface {
	// Account
	GetBalance(ctx context.Context) (float64, error)

	// Execution
	BuyMarket(ctx context.Context, tokenID string, usdAmount float64) (*BuyResult, error)
	ClosePosition(ctx context.Context, tokenID string) (*CloseResult, error)

	// Protective orders
	PlaceStopLoss(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error)
	PlaceTakeProfit(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error)
	ModifyOrder(ctx context.Context, orderID string, update OrderUpdate) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Market data & positions
	GetCurrentPrice(ctx context.Context, tokenID string) (float64, error)
	// GetPosition returns (nil, nil) when no position is held for the token.
	GetPosition(ctx context.Context, tokenID string) (*VenuePosition, error)
}

// BuyResult represents the outcome of a market buy.
type BuyResult struct {
	OrderID     string
	FilledPrice float64
	AmountOut   float64 // token quantity received
	SpentUSD    float64
}

// CloseResult represents the outcome of liquidating a position.
type CloseResult struct {
	ExitPrice float64
	Quantity  float64
	Profit    float64
}

// VenuePosition is the venue's view of a held position.
type VenuePosition struct {
	TokenID    string
	Quantity   float64
	EntryPrice float64
}

// OrderUpdate describes a partial modification of an existing order.
// Nil fields are left unchanged.
type OrderUpdate struct {
	TriggerPrice *float64
	Quantity     *float64
}
