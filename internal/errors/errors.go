// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSlippageExceeded  = errors.New("slippage exceeds ceiling")
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrVenueUnavailable  = errors.New("venue unavailable")
	ErrStreamClosed      = errors.New("price stream closed")
	ErrDataNotFound      = errors.New("data not found")
)

// VenueError represents an error from a venue operation.
type VenueError struct {
	Op      string
	TokenID string
	Err     error
}

func (e *VenueError) Error() string {
	if e.TokenID != "" {
		return fmt.Sprintf("venue error [%s] %s: %v", e.Op, e.TokenID, e.Err)
	}
	return fmt.Sprintf("venue error [%s]: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError creates a new VenueError.
func NewVenueError(op, tokenID string, err error) *VenueError {
	return &VenueError{
		Op:      op,
		TokenID: tokenID,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	TokenID string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.TokenID, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.TokenID, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, tokenID, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		TokenID: tokenID,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// RiskError represents a risk limit violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
