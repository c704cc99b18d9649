package models

// Signal is a structured trade instruction produced by the message parser.
// It is immutable once handed to the engine.
type Signal struct {
	TokenID           string    `json:"token_id"`
	Symbol            string    `json:"symbol,omitempty"`
	TradePercent      float64   `json:"trade_percent"`
	StopLossPercent   float64   `json:"stop_loss_percent"`
	TakeProfitTargets []float64 `json:"take_profit_targets,omitempty"`
	Confidence        float64   `json:"confidence"` // 0-100
	Urgent            bool      `json:"urgent,omitempty"`
	SourceChannel     string    `json:"source_channel,omitempty"`
}
