// Package models provides domain models for the copy-trading engine.
package models

import "time"

// RiskTier classifies how aggressively a signal source should be treated.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Riskier returns the more conservative-capped (higher risk) of two tiers.
func Riskier(a, b RiskTier) RiskTier {
	if tierRank(a) >= tierRank(b) {
		return a
	}
	return b
}

func tierRank(t RiskTier) int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// OrderKind represents the kind of a protective order.
type OrderKind string

const (
	OrderKindStop  OrderKind = "stop"
	OrderKindLimit OrderKind = "limit"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Tick represents a single price observation for a token.
type Tick struct {
	TokenID   string    `json:"token"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"ts"`
}
