package domain

import "time"

// LiveTradingState is the singleton session state consulted by the risk
// manager before every approval. Only the risk manager mutates it; everyone
// else reads copies.
type LiveTradingState struct {
	DailyProfit float64 `json:"daily_profit"`
	DailyLoss   float64 `json:"daily_loss"`
	TotalProfit float64 `json:"total_profit"`
	TotalLoss   float64 `json:"total_loss"`
	TradeCount  int64   `json:"trade_count"`
	WinCount    int64   `json:"win_count"`
	TotalAmountTraded float64 `json:"total_amount_traded"`

	// Partial-trade counters. Estimated, since the final realized value of a
	// partial depends on its resolution leg.
	PartialTradeCount      int64   `json:"partial_trade_count"`
	PartialEstimatedLoss   float64 `json:"partial_estimated_loss"`
	PartialEstimatedProfit float64 `json:"partial_estimated_profit"`
	PartialAmount          float64 `json:"partial_amount"`

	CircuitBreakerTripped bool       `json:"circuit_breaker_tripped"`
	CircuitBreakerReason  string     `json:"circuit_breaker_reason,omitempty"`
	CircuitBreakerAt      *time.Time `json:"circuit_breaker_at"`

	IsExecuting    bool       `json:"is_executing"`
	CurrentTradeID string     `json:"current_trade_id,omitempty"`
	LastTradeAt    *time.Time `json:"last_trade_at"`
	DailyResetAt   time.Time  `json:"daily_reset_at"`
}

// NetDaily is daily profit minus daily loss.
func (s LiveTradingState) NetDaily() float64 {
	return s.DailyProfit - s.DailyLoss
}

// NetTotal is lifetime profit minus lifetime loss.
func (s LiveTradingState) NetTotal() float64 {
	return s.TotalProfit - s.TotalLoss
}

// WinRate returns wins over finalized trades, 0 when no trades recorded.
func (s LiveTradingState) WinRate() float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(s.TradeCount)
}
