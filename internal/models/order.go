package models

import "time"

// Order represents a protective order held at the venue.
// A stop order closes the entire remaining position quantity when it
// triggers; a limit (take-profit) order closes only its own allotment.
type Order struct {
	ID           string      `json:"id"`
	TokenID      string      `json:"token_id"`
	Kind         OrderKind   `json:"kind"`
	TriggerPrice float64     `json:"trigger_price"`
	Quantity     float64     `json:"quantity"`
	Status       OrderStatus `json:"status"`
	PlacedAt     time.Time   `json:"placed_at"`
}

// Position represents an open, tracked holding in a single token.
type Position struct {
	TokenID            string    `json:"token_id"`
	Symbol             string    `json:"symbol,omitempty"`
	EntryPrice         float64   `json:"entry_price"`
	Quantity           float64   `json:"quantity"`
	EntryTime          time.Time `json:"entry_time"`
	StopPrice          float64   `json:"stop_price"`
	TakeProfitPrices   []float64 `json:"take_profit_prices,omitempty"`
	SourceChannel      string    `json:"source_channel,omitempty"`
	Tier               RiskTier  `json:"tier"`
	StopOrderID        string    `json:"stop_order_id,omitempty"`
	TakeProfitOrderIDs []string  `json:"take_profit_order_ids,omitempty"`
}
