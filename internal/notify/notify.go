// Package notify delivers trade event notifications. Lifecycle code
// treats delivery as fire-and-forget; a failed send never affects a
// trade.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/pkg/utils"
)

// Notifier is what the trade lifecycle calls after transitions.
type Notifier interface {
	NotifyTradeExecution(pos *models.Position)
	NotifyTradeExit(pos *models.Position, exitReason string, pnl, pnlPercent float64)
	NotifyError(err error, errContext string)
}

// Channel is a single delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification is the channel-agnostic message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationTrade NotificationType = "trade"
	NotificationExit  NotificationType = "exit"
	NotificationError NotificationType = "error"
)

// Level filters which notification types are delivered.
type Level string

const (
	LevelAll        Level = "all"
	LevelTradesOnly Level = "trades_only"
	LevelErrorsOnly Level = "errors_only"
)

const sendTimeout = 10 * time.Second

// MultiNotifier fans a notification out to every enabled channel.
// Delivery runs in the background with a bounded timeout; failures
// are logged and dropped.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []Channel
	level    Level
	logger   zerolog.Logger
}

// NewMultiNotifier creates a notifier with the given level filter.
func NewMultiNotifier(level Level, logger zerolog.Logger, channels ...Channel) *MultiNotifier {
	if level == "" {
		level = LevelAll
	}
	return &MultiNotifier{
		channels: channels,
		level:    level,
		logger:   logger,
	}
}

// AddChannel registers an additional delivery channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(t NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return t == NotificationTrade || t == NotificationExit
	case LevelErrorsOnly:
		return t == NotificationError
	default:
		return true
	}
}

// dispatch sends asynchronously to all enabled channels.
func (mn *MultiNotifier) dispatch(n Notification) {
	if !mn.shouldSend(n.Type) {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := make([]Channel, len(mn.channels))
	copy(channels, mn.channels)
	mn.mu.RUnlock()

	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		go func(ch Channel) {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := ch.Send(ctx, n); err != nil {
				mn.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("notification delivery failed")
			}
		}(ch)
	}
}

// NotifyTradeExecution announces a newly opened position.
func (mn *MultiNotifier) NotifyTradeExecution(pos *models.Position) {
	var tpLines []string
	for _, p := range pos.TakeProfitPrices {
		tpLines = append(tpLines, utils.FormatPrice(p))
	}
	targets := "none"
	if len(tpLines) > 0 {
		targets = strings.Join(tpLines, ", ")
	}

	mn.dispatch(Notification{
		Type:  NotificationTrade,
		Title: fmt.Sprintf("Trade Opened: %s", pos.Symbol),
		Message: fmt.Sprintf(
			"Token: %s\nEntry: %s\nQuantity: %s\nStop: %s\nTargets: %s\nChannel: %s",
			pos.TokenID,
			utils.FormatPrice(pos.EntryPrice),
			utils.FormatQuantity(pos.Quantity),
			utils.FormatPrice(pos.StopPrice),
			targets,
			pos.SourceChannel,
		),
		Data: map[string]interface{}{
			"token_id":    pos.TokenID,
			"symbol":      pos.Symbol,
			"entry_price": pos.EntryPrice,
			"quantity":    pos.Quantity,
			"stop_price":  pos.StopPrice,
			"channel":     pos.SourceChannel,
		},
	})
}

// NotifyTradeExit announces a closed position with its realized result.
func (mn *MultiNotifier) NotifyTradeExit(pos *models.Position, exitReason string, pnl, pnlPercent float64) {
	mn.dispatch(Notification{
		Type:  NotificationExit,
		Title: fmt.Sprintf("Trade Closed: %s (%s)", pos.Symbol, exitReason),
		Message: fmt.Sprintf(
			"Token: %s\nEntry: %s\nP&L: %s (%s)",
			pos.TokenID,
			utils.FormatPrice(pos.EntryPrice),
			utils.FormatPnL(pnl),
			utils.FormatPercent(pnlPercent),
		),
		Data: map[string]interface{}{
			"token_id":    pos.TokenID,
			"symbol":      pos.Symbol,
			"exit_reason": exitReason,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
		},
	})
}

// NotifyError reports an operational error.
func (mn *MultiNotifier) NotifyError(err error, errContext string) {
	mn.dispatch(Notification{
		Type:    NotificationError,
		Title:   "Error",
		Message: fmt.Sprintf("Context: %s\nError: %v", errContext, err),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// Nop is a Notifier that discards everything.
type Nop struct{}

func (Nop) NotifyTradeExecution(*models.Position)                      {}
func (Nop) NotifyTradeExit(*models.Position, string, float64, float64) {}
func (Nop) NotifyError(error, string)                                  {}

var (
	_ Notifier = (*MultiNotifier)(nil)
	_ Notifier = Nop{}
)
