package venue

import (
	"encoding/json"
	"time"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
)

// Checkpoint is a serializable snapshot of the paper venue, written
// periodically so an interrupted session resumes with balances, open
// positions and pending orders intact.
type Checkpoint struct {
	Balance         float64                    `json:"balance"`
	StartingBalance float64                    `json:"starting_balance"`
	RealizedPnL     float64                    `json:"realized_pnl"`
	Tokens          map[string]TokenCheckpoint `json:"tokens"`
	Orders          []models.Order             `json:"orders"`
	Positions       []PositionCheckpoint       `json:"positions"`
	SavedAt         time.Time                  `json:"saved_at"`
}

// TokenCheckpoint persists one token's price process.
type TokenCheckpoint struct {
	Price          float64   `json:"price"`
	Trend          float64   `json:"trend"`
	TrendUpdatedAt time.Time `json:"trend_updated_at"`
	History        []float64 `json:"history,omitempty"`
}

// PositionCheckpoint persists one simulated position.
type PositionCheckpoint struct {
	TokenID    string  `json:"token_id"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	CostBasis  float64 `json:"cost_basis"`
}

// Snapshot captures the venue's current state.
func (p *PaperVenue) Snapshot() *Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := &Checkpoint{
		Balance:         p.balance,
		StartingBalance: p.startingBalance,
		RealizedPnL:     p.realizedPnL,
		Tokens:          make(map[string]TokenCheckpoint, len(p.tokens)),
		SavedAt:         time.Now(),
	}
	for id, st := range p.tokens {
		history := make([]float64, len(st.History))
		copy(history, st.History)
		cp.Tokens[id] = TokenCheckpoint{
			Price:          st.Price,
			Trend:          st.Trend,
			TrendUpdatedAt: st.TrendUpdatedAt,
			History:        history,
		}
	}
	for _, o := range p.orders {
		cp.Orders = append(cp.Orders, *o)
	}
	for _, pos := range p.positions {
		cp.Positions = append(cp.Positions, PositionCheckpoint{
			TokenID:    pos.TokenID,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			CostBasis:  pos.CostBasis,
		})
	}
	return cp
}

// Restore replaces the venue state with the checkpoint's contents.
func (p *PaperVenue) Restore(cp *Checkpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balance = cp.Balance
	p.startingBalance = cp.StartingBalance
	p.realizedPnL = cp.RealizedPnL

	p.tokens = make(map[string]*tokenState, len(cp.Tokens))
	for id, tc := range cp.Tokens {
		history := make([]float64, len(tc.History))
		copy(history, tc.History)
		p.tokens[id] = &tokenState{
			Price:          tc.Price,
			Trend:          tc.Trend,
			TrendUpdatedAt: tc.TrendUpdatedAt,
			History:        history,
		}
	}

	p.orders = make(map[string]*models.Order, len(cp.Orders))
	for i := range cp.Orders {
		o := cp.Orders[i]
		p.orders[o.ID] = &o
	}

	p.positions = make(map[string]*simPosition, len(cp.Positions))
	for _, pc := range cp.Positions {
		p.positions[pc.TokenID] = &simPosition{
			TokenID:    pc.TokenID,
			Quantity:   pc.Quantity,
			EntryPrice: pc.EntryPrice,
			CostBasis:  pc.CostBasis,
		}
	}
}

// MarshalCheckpoint encodes a checkpoint for storage.
func MarshalCheckpoint(cp *Checkpoint) ([]byte, error) {
	return json.Marshal(cp)
}

// UnmarshalCheckpoint decodes a stored checkpoint.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	if len(data) == 0 {
		return nil, apperrors.ErrDataNotFound
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, apperrors.Wrap(err, "decoding checkpoint")
	}
	return &cp, nil
}
