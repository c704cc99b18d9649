package venue

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
)

// PaperConfig holds configuration for the paper-trading venue.
type PaperConfig struct {
	InitialBalance    float64
	InitialTokenPrice float64 // seed price for tokens never priced before

	// Price process
	BaseVolatility    float64       // per-tick fractional move scale
	TrendInterval     time.Duration // minimum time between trend revisions
	PriceHistoryLimit int

	// Execution frictions
	MinLatency         time.Duration
	MaxLatency         time.Duration
	ReferenceLiquidity float64 // USD notional at which size impact reaches 100%
	MicroSlippageMax   float64 // upper bound of the random microstructure term
	SlippageCeiling    float64 // a draw above this fails the order outright

	Seed int64
}

// DefaultPaperConfig returns simulation defaults.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialBalance:     1000,
		InitialTokenPrice:  0.000001,
		BaseVolatility:     0.02,
		TrendInterval:      time.Minute,
		PriceHistoryLimit:  600,
		MinLatency:         200 * time.Millisecond,
		MaxLatency:         1500 * time.Millisecond,
		ReferenceLiquidity: 10000,
		MicroSlippageMax:   0.005,
		SlippageCeiling:    0.15,
	}
}

// tokenState is the persistent price process for one token.
type tokenState struct {
	Price          float64
	Trend          float64 // clamped to [-1, 1]
	TrendUpdatedAt time.Time
	History        []float64
}

// simPosition is the venue-internal view of a simulated holding.
type simPosition struct {
	TokenID    string
	Quantity   float64
	EntryPrice float64 // average fill price including slippage
	CostBasis  float64 // USD actually spent on the remaining quantity
}

// PaperVenue implements Venue against synthetic state: a per-token price
// process, a virtual order book and a simulated cash balance. No capital
// is created or destroyed: balance plus mark-to-market value always equals
// the starting balance plus realized P/L, with entry slippage baked into
// fill prices.
type PaperVenue struct {
	cfg PaperConfig

	mu              sync.Mutex
	rng             *rand.Rand
	balance         float64
	startingBalance float64
	realizedPnL     float64
	tokens          map[string]*tokenState
	orders          map[string]*models.Order
	positions       map[string]*simPosition
}

// NewPaperVenue creates a paper venue with the given configuration.
func NewPaperVenue(cfg PaperConfig) *PaperVenue {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = DefaultPaperConfig().InitialBalance
	}
	if cfg.InitialTokenPrice <= 0 {
		cfg.InitialTokenPrice = DefaultPaperConfig().InitialTokenPrice
	}
	if cfg.ReferenceLiquidity <= 0 {
		cfg.ReferenceLiquidity = DefaultPaperConfig().ReferenceLiquidity
	}
	if cfg.SlippageCeiling <= 0 {
		cfg.SlippageCeiling = DefaultPaperConfig().SlippageCeiling
	}
	if cfg.PriceHistoryLimit <= 0 {
		cfg.PriceHistoryLimit = DefaultPaperConfig().PriceHistoryLimit
	}
	if cfg.TrendInterval <= 0 {
		cfg.TrendInterval = DefaultPaperConfig().TrendInterval
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperVenue{
		cfg:             cfg,
		rng:             rand.New(rand.NewSource(seed)),
		balance:         cfg.InitialBalance,
		startingBalance: cfg.InitialBalance,
		tokens:          make(map[string]*tokenState),
		orders:          make(map[string]*models.Order),
		positions:       make(map[string]*simPosition),
	}
}

// GetBalance returns the simulated cash balance.
func (p *PaperVenue) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// BuyMarket simulates a market buy of usdAmount worth of the token.
// The fill suffers a network-latency draw and a slippage draw; a slippage
// draw above the configured ceiling fails the order without filling.
func (p *PaperVenue) BuyMarket(ctx context.Context, tokenID string, usdAmount float64) (*BuyResult, error) {
	if usdAmount <= 0 {
		return nil, apperrors.NewValidationError("usdAmount", usdAmount, "must be positive")
	}

	if err := p.simulateLatency(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balance < usdAmount {
		return nil, apperrors.ErrInsufficientFunds
	}

	st := p.ensureTokenLocked(tokenID)

	slippage := p.drawSlippageLocked(usdAmount)
	if slippage > p.cfg.SlippageCeiling {
		return nil, apperrors.NewVenueError("buy", tokenID, apperrors.ErrSlippageExceeded)
	}

	fillPrice := st.Price * (1 + slippage)
	quantity := usdAmount / fillPrice

	p.balance -= usdAmount

	pos, ok := p.positions[tokenID]
	if !ok {
		pos = &simPosition{TokenID: tokenID}
		p.positions[tokenID] = pos
	}
	totalQty := pos.Quantity + quantity
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*quantity) / totalQty
	pos.Quantity = totalQty
	pos.CostBasis += usdAmount

	return &BuyResult{
		OrderID:     uuid.New().String(),
		FilledPrice: fillPrice,
		AmountOut:   quantity,
		SpentUSD:    usdAmount,
	}, nil
}

// ClosePosition liquidates the remaining quantity at the current price.
// Slippage is modeled at entry only; exits settle at the observed price.
func (p *PaperVenue) ClosePosition(ctx context.Context, tokenID string) (*CloseResult, error) {
	if err := p.simulateLatency(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[tokenID]
	if !ok {
		return nil, apperrors.ErrPositionNotFound
	}
	st := p.ensureTokenLocked(tokenID)
	result := p.settleLocked(pos, pos.Quantity, st.Price)
	p.cancelTokenOrdersLocked(tokenID)
	return result, nil
}

// PlaceStopLoss places a stop order that closes the full remaining
// quantity when price falls to or through the trigger.
func (p *PaperVenue) PlaceStopLoss(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error) {
	return p.placeOrder(tokenID, models.OrderKindStop, quantity, triggerPrice)
}

// PlaceTakeProfit places a limit order that closes its own allotted
// quantity when price rises to or through the trigger.
func (p *PaperVenue) PlaceTakeProfit(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error) {
	return p.placeOrder(tokenID, models.OrderKindLimit, quantity, triggerPrice)
}

func (p *PaperVenue) placeOrder(tokenID string, kind models.OrderKind, quantity, triggerPrice float64) (*models.Order, error) {
	if quantity <= 0 {
		return nil, apperrors.NewValidationError("quantity", quantity, "must be positive")
	}
	if triggerPrice <= 0 {
		return nil, apperrors.NewValidationError("triggerPrice", triggerPrice, "must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[tokenID]; !ok {
		return nil, apperrors.ErrPositionNotFound
	}

	order := &models.Order{
		ID:           uuid.New().String(),
		TokenID:      tokenID,
		Kind:         kind,
		TriggerPrice: triggerPrice,
		Quantity:     quantity,
		Status:       models.OrderStatusOpen,
		PlacedAt:     time.Now(),
	}
	p.orders[order.ID] = order

	cp := *order
	return &cp, nil
}

// ModifyOrder updates an open order in place.
func (p *PaperVenue) ModifyOrder(ctx context.Context, orderID string, update OrderUpdate) (*models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusOpen {
		return nil, apperrors.NewOrderError(orderID, order.TokenID, "modify", "order is not open", nil)
	}
	if update.TriggerPrice != nil {
		order.TriggerPrice = *update.TriggerPrice
	}
	if update.Quantity != nil {
		order.Quantity = *update.Quantity
	}

	cp := *order
	return &cp, nil
}

// CancelOrder cancels an open order.
func (p *PaperVenue) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusOpen {
		return apperrors.NewOrderError(orderID, order.TokenID, "cancel", "order is not open", nil)
	}
	order.Status = models.OrderStatusCancelled
	return nil
}

// GetCurrentPrice returns the token's current simulated price.
func (p *PaperVenue) GetCurrentPrice(ctx context.Context, tokenID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureTokenLocked(tokenID).Price, nil
}

// GetPosition returns the simulated position, or (nil, nil) when flat.
func (p *PaperVenue) GetPosition(ctx context.Context, tokenID string) (*VenuePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[tokenID]
	if !ok {
		return nil, nil
	}
	return &VenuePosition{
		TokenID:    pos.TokenID,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
	}, nil
}

// SetPrice pins a token's price and evaluates the order book against it.
// Used by tests and by live-price mirroring.
func (p *PaperVenue) SetPrice(tokenID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.ensureTokenLocked(tokenID)
	st.Price = price
	p.recordHistoryLocked(st, price)
	p.evaluateOrdersLocked(tokenID, price)
}

// Tick advances every token's price process by one step and evaluates
// the virtual order book against the new prices.
func (p *PaperVenue) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for tokenID, st := range p.tokens {
		p.advancePriceLocked(st, now)
		p.evaluateOrdersLocked(tokenID, st.Price)
	}
	return nil
}

// advancePriceLocked applies one random-walk step with a slow-moving trend.
func (p *PaperVenue) advancePriceLocked(st *tokenState, now time.Time) {
	if now.Sub(st.TrendUpdatedAt) >= p.cfg.TrendInterval {
		st.Trend = clamp(st.Trend+(p.rng.Float64()*2-1)*0.5, -1, 1)
		st.TrendUpdatedAt = now
	}

	ret := (st.Trend*0.3 + (p.rng.Float64()*2 - 1)) * p.cfg.BaseVolatility
	next := st.Price * (1 + ret)

	// Floor at 1% of the previous value to avoid collapse to zero.
	if floor := st.Price * 0.01; next < floor {
		next = floor
	}
	st.Price = next
	p.recordHistoryLocked(st, next)
}

func (p *PaperVenue) recordHistoryLocked(st *tokenState, price float64) {
	st.History = append(st.History, price)
	if len(st.History) > p.cfg.PriceHistoryLimit {
		st.History = st.History[len(st.History)-p.cfg.PriceHistoryLimit:]
	}
}

// evaluateOrdersLocked checks every open order for the token against the
// observed price. Stops trigger on price falling to/through the trigger
// and close the entire remaining quantity; limits trigger on price rising
// to/through the trigger and close only their own allotment. Triggered
// orders settle immediately at the observed price.
func (p *PaperVenue) evaluateOrdersLocked(tokenID string, price float64) {
	open := make([]*models.Order, 0, 4)
	for _, o := range p.orders {
		if o.TokenID == tokenID && o.Status == models.OrderStatusOpen {
			open = append(open, o)
		}
	}
	// Stops take priority; within a kind, oldest first.
	sort.Slice(open, func(i, j int) bool {
		if open[i].Kind != open[j].Kind {
			return open[i].Kind == models.OrderKindStop
		}
		return open[i].PlacedAt.Before(open[j].PlacedAt)
	})

	for _, o := range open {
		pos, ok := p.positions[tokenID]
		if !ok || pos.Quantity <= 0 {
			return
		}

		switch o.Kind {
		case models.OrderKindStop:
			if price <= o.TriggerPrice {
				o.Status = models.OrderStatusFilled
				p.settleLocked(pos, pos.Quantity, price)
				p.cancelTokenOrdersLocked(tokenID)
				return
			}
		case models.OrderKindLimit:
			if price >= o.TriggerPrice {
				qty := o.Quantity
				if qty > pos.Quantity {
					qty = pos.Quantity
				}
				o.Status = models.OrderStatusFilled
				p.settleLocked(pos, qty, price)
				if _, held := p.positions[tokenID]; !held {
					p.cancelTokenOrdersLocked(tokenID)
					return
				}
			}
		}
	}
}

// settleLocked closes qty of the position at price, crediting proceeds
// to the balance and accruing realized P/L against cost basis.
func (p *PaperVenue) settleLocked(pos *simPosition, qty, price float64) *CloseResult {
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	proceeds := qty * price
	costShare := pos.CostBasis * (qty / pos.Quantity)
	profit := proceeds - costShare

	p.balance += proceeds
	p.realizedPnL += profit
	pos.Quantity -= qty
	pos.CostBasis -= costShare

	if pos.Quantity <= 1e-12 {
		delete(p.positions, pos.TokenID)
	}

	return &CloseResult{
		ExitPrice: price,
		Quantity:  qty,
		Profit:    profit,
	}
}

func (p *PaperVenue) cancelTokenOrdersLocked(tokenID string) {
	for _, o := range p.orders {
		if o.TokenID == tokenID && o.Status == models.OrderStatusOpen {
			o.Status = models.OrderStatusCancelled
		}
	}
}

func (p *PaperVenue) ensureTokenLocked(tokenID string) *tokenState {
	st, ok := p.tokens[tokenID]
	if !ok {
		st = &tokenState{
			Price:          p.cfg.InitialTokenPrice,
			TrendUpdatedAt: time.Now(),
		}
		p.tokens[tokenID] = st
	}
	return st
}

// drawSlippageLocked models slippage as a size-impact term relative to
// reference liquidity, a volatility term and a random microstructure term.
func (p *PaperVenue) drawSlippageLocked(usdAmount float64) float64 {
	sizeImpact := usdAmount / p.cfg.ReferenceLiquidity
	volImpact := p.cfg.BaseVolatility * p.rng.Float64()
	micro := p.cfg.MicroSlippageMax * p.rng.Float64()
	return sizeImpact + volImpact + micro
}

// simulateLatency suspends for a uniform draw in [MinLatency, MaxLatency].
func (p *PaperVenue) simulateLatency(ctx context.Context) error {
	p.mu.Lock()
	span := p.cfg.MaxLatency - p.cfg.MinLatency
	delay := p.cfg.MinLatency
	if span > 0 {
		delay += time.Duration(p.rng.Int63n(int64(span)))
	}
	p.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Equity returns cash plus the mark-to-market value of open positions.
func (p *PaperVenue) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.balance
	for tokenID, pos := range p.positions {
		if st, ok := p.tokens[tokenID]; ok {
			equity += pos.Quantity * st.Price
		}
	}
	return equity
}

// RealizedPnL returns cumulative realized profit and loss.
func (p *PaperVenue) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realizedPnL
}

// StartingBalance returns the balance the session began with.
func (p *PaperVenue) StartingBalance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startingBalance
}

// Reset restores the venue to a fresh session with the given balance.
func (p *PaperVenue) Reset(initialBalance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balance = initialBalance
	p.startingBalance = initialBalance
	p.realizedPnL = 0
	p.tokens = make(map[string]*tokenState)
	p.orders = make(map[string]*models.Order)
	p.positions = make(map[string]*simPosition)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ensure PaperVenue implements Venue.
var _ Venue = (*PaperVenue)(nil)
