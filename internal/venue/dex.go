package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/pkg/utils"
)

// DexConfig holds configuration for the live DEX aggregator venue.
type DexConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	PriceMaxAge time.Duration // streamed price staleness before REST fallback
	SlippageBps int           // max slippage passed to the aggregator
}

// DexVenue implements Venue against a DEX aggregator HTTP API. The
// aggregator settles swaps; protective stop and take-profit orders have
// no on-chain representation, so they are tracked venue-side and fired
// by CheckTriggers against observed prices.
type DexVenue struct {
	cfg    DexConfig
	client *http.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	prices    map[string]pricePoint
	orders    map[string]*models.Order
	positions map[string]*simPosition
}

type pricePoint struct {
	price float64
	at    time.Time
}

// NewDexVenue creates a live venue client.
func NewDexVenue(cfg DexConfig, logger zerolog.Logger) *DexVenue {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 5 * time.Second
	}
	return &DexVenue{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
		prices:    make(map[string]pricePoint),
		orders:    make(map[string]*models.Order),
		positions: make(map[string]*simPosition),
	}
}

type balanceResponse struct {
	BalanceUSD float64 `json:"balance_usd"`
}

type swapRequest struct {
	TokenID     string  `json:"token_id"`
	Side        string  `json:"side"`
	AmountUSD   float64 `json:"amount_usd,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	SlippageBps int     `json:"slippage_bps,omitempty"`
}

type swapResponse struct {
	TxID        string  `json:"tx_id"`
	FilledPrice float64 `json:"filled_price"`
	AmountOut   float64 `json:"amount_out"`
	SpentUSD    float64 `json:"spent_usd"`
	ProceedsUSD float64 `json:"proceeds_usd"`
}

type priceResponse struct {
	TokenID string  `json:"token_id"`
	Price   float64 `json:"price"`
}

// GetBalance fetches the wallet's settled USD balance.
func (d *DexVenue) GetBalance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := d.get(ctx, "/v1/balance", &resp); err != nil {
		return 0, apperrors.NewVenueError("balance", "", err)
	}
	return resp.BalanceUSD, nil
}

// BuyMarket swaps usdAmount of quote currency into the token.
// Transient HTTP failures are retried with backoff; the retry policy
// lives here rather than in the trade lifecycle.
func (d *DexVenue) BuyMarket(ctx context.Context, tokenID string, usdAmount float64) (*BuyResult, error) {
	if usdAmount <= 0 {
		return nil, apperrors.NewValidationError("usdAmount", usdAmount, "must be positive")
	}

	req := swapRequest{
		TokenID:     tokenID,
		Side:        "buy",
		AmountUSD:   usdAmount,
		SlippageBps: d.cfg.SlippageBps,
	}
	resp, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (*swapResponse, error) {
		var out swapResponse
		if err := d.post(ctx, "/v1/swap", req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, apperrors.NewVenueError("buy", tokenID, err)
	}

	d.mu.Lock()
	pos, ok := d.positions[tokenID]
	if !ok {
		pos = &simPosition{TokenID: tokenID}
		d.positions[tokenID] = pos
	}
	totalQty := pos.Quantity + resp.AmountOut
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + resp.FilledPrice*resp.AmountOut) / totalQty
	pos.Quantity = totalQty
	pos.CostBasis += resp.SpentUSD
	d.prices[tokenID] = pricePoint{price: resp.FilledPrice, at: time.Now()}
	d.mu.Unlock()

	return &BuyResult{
		OrderID:     resp.TxID,
		FilledPrice: resp.FilledPrice,
		AmountOut:   resp.AmountOut,
		SpentUSD:    resp.SpentUSD,
	}, nil
}

// ClosePosition swaps the full remaining token quantity back to quote.
func (d *DexVenue) ClosePosition(ctx context.Context, tokenID string) (*CloseResult, error) {
	d.mu.RLock()
	pos, ok := d.positions[tokenID]
	var qty, costBasis float64
	if ok {
		qty = pos.Quantity
		costBasis = pos.CostBasis
	}
	d.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrPositionNotFound
	}
	return d.sell(ctx, tokenID, qty, costBasis)
}

func (d *DexVenue) sell(ctx context.Context, tokenID string, quantity, costShare float64) (*CloseResult, error) {
	req := swapRequest{
		TokenID:     tokenID,
		Side:        "sell",
		Quantity:    quantity,
		SlippageBps: d.cfg.SlippageBps,
	}
	resp, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (*swapResponse, error) {
		var out swapResponse
		if err := d.post(ctx, "/v1/swap", req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, apperrors.NewVenueError("sell", tokenID, err)
	}

	d.mu.Lock()
	if pos, ok := d.positions[tokenID]; ok {
		pos.Quantity -= quantity
		pos.CostBasis -= costShare
		if pos.Quantity <= 1e-12 {
			delete(d.positions, tokenID)
			d.cancelTokenOrdersLocked(tokenID)
		}
	}
	d.prices[tokenID] = pricePoint{price: resp.FilledPrice, at: time.Now()}
	d.mu.Unlock()

	return &CloseResult{
		ExitPrice: resp.FilledPrice,
		Quantity:  quantity,
		Profit:    resp.ProceedsUSD - costShare,
	}, nil
}

// PlaceStopLoss records a venue-side stop order for the token.
func (d *DexVenue) PlaceStopLoss(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error) {
	return d.placeOrder(tokenID, models.OrderKindStop, quantity, triggerPrice)
}

// PlaceTakeProfit records a venue-side take-profit order for the token.
func (d *DexVenue) PlaceTakeProfit(ctx context.Context, tokenID string, quantity, triggerPrice float64) (*models.Order, error) {
	return d.placeOrder(tokenID, models.OrderKindLimit, quantity, triggerPrice)
}

func (d *DexVenue) placeOrder(tokenID string, kind models.OrderKind, quantity, triggerPrice float64) (*models.Order, error) {
	if quantity <= 0 || triggerPrice <= 0 {
		return nil, apperrors.NewValidationError("order", fmt.Sprintf("qty=%v trigger=%v", quantity, triggerPrice), "must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.positions[tokenID]; !ok {
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
	d.orders[order.ID] = order

	cp := *order
	return &cp, nil
}

// ModifyOrder updates a venue-side order.
func (d *DexVenue) ModifyOrder(ctx context.Context, orderID string, update OrderUpdate) (*models.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.orders[orderID]
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

// CancelOrder cancels a venue-side order.
func (d *DexVenue) CancelOrder(ctx context.Context, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusOpen {
		return apperrors.NewOrderError(orderID, order.TokenID, "cancel", "order is not open", nil)
	}
	order.Status = models.OrderStatusCancelled
	return nil
}

// GetCurrentPrice serves from the streamed price cache when fresh,
// falling back to a REST lookup.
func (d *DexVenue) GetCurrentPrice(ctx context.Context, tokenID string) (float64, error) {
	d.mu.RLock()
	pp, ok := d.prices[tokenID]
	d.mu.RUnlock()
	if ok && time.Since(pp.at) <= d.cfg.PriceMaxAge {
		return pp.price, nil
	}

	var resp priceResponse
	if err := d.get(ctx, "/v1/price?token_id="+tokenID, &resp); err != nil {
		return 0, apperrors.NewVenueError("price", tokenID, err)
	}
	d.UpdatePrice(tokenID, resp.Price)
	return resp.Price, nil
}

// GetPosition returns the locally tracked position, or (nil, nil) when flat.
func (d *DexVenue) GetPosition(ctx context.Context, tokenID string) (*VenuePosition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pos, ok := d.positions[tokenID]
	if !ok {
		return nil, nil
	}
	return &VenuePosition{
		TokenID:    pos.TokenID,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
	}, nil
}

// UpdatePrice feeds an externally observed price into the cache.
// Wired as the price stream's tick handler.
func (d *DexVenue) UpdatePrice(tokenID string, price float64) {
	d.mu.Lock()
	d.prices[tokenID] = pricePoint{price: price, at: time.Now()}
	d.mu.Unlock()
}

// CheckTriggers evaluates venue-side protective orders against current
// prices and fires the ones whose triggers have been crossed. Suitable
// as a recurring task tick.
func (d *DexVenue) CheckTriggers(ctx context.Context) error {
	d.mu.RLock()
	pending := make([]models.Order, 0, len(d.orders))
	for _, o := range d.orders {
		if o.Status == models.OrderStatusOpen {
			pending = append(pending, *o)
		}
	}
	d.mu.RUnlock()

	for _, o := range pending {
		price, err := d.GetCurrentPrice(ctx, o.TokenID)
		if err != nil {
			return err
		}

		switch o.Kind {
		case models.OrderKindStop:
			if price <= o.TriggerPrice {
				d.markFilled(o.ID)
				if _, err := d.ClosePosition(ctx, o.TokenID); err != nil {
					return err
				}
			}
		case models.OrderKindLimit:
			if price >= o.TriggerPrice {
				d.mu.RLock()
				pos, ok := d.positions[o.TokenID]
				var costShare float64
				if ok && pos.Quantity > 0 {
					costShare = pos.CostBasis * (o.Quantity / pos.Quantity)
				}
				d.mu.RUnlock()
				if !ok {
					continue
				}
				d.markFilled(o.ID)
				if _, err := d.sell(ctx, o.TokenID, o.Quantity, costShare); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *DexVenue) markFilled(orderID string) {
	d.mu.Lock()
	if o, ok := d.orders[orderID]; ok {
		o.Status = models.OrderStatusFilled
	}
	d.mu.Unlock()
}

func (d *DexVenue) cancelTokenOrdersLocked(tokenID string) {
	for _, o := range d.orders {
		if o.TokenID == tokenID && o.Status == models.OrderStatusOpen {
			o.Status = models.OrderStatusCancelled
		}
	}
}

func (d *DexVenue) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return d.do(req, out)
}

func (d *DexVenue) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, out)
}

func (d *DexVenue) do(req *http.Request, out interface{}) error {
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", apperrors.ErrVenueUnavailable, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ensure DexVenue implements Venue.
var _ Venue = (*DexVenue)(nil)
