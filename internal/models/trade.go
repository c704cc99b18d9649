package models

import "time"

// Trade represents a completed (fully or partially closed) trade,
// as written to the journal.
type Trade struct {
	ID            string
	TokenID       string
	Symbol        string
	Quantity      float64
	EntryPrice    float64
	ExitPrice     float64
	PnL           float64
	PnLPercent    float64
	ExitReason    string
	SourceChannel string
	IsPaper       bool
	OpenedAt      time.Time
	ClosedAt      time.Time
}
