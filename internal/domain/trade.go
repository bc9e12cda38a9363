package domain

import "time"

// TradeStatus tracks the lifecycle of a live trade through the execution
// state machine.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuting TradeStatus = "executing"
	TradeStatusCompleted TradeStatus = "completed"
	// TradeStatusPartialFailure means a leg failed after capital moved into a
	// non-start currency and the held balance has not been liquidated yet.
	// Terminal only when resolution attempts are exhausted.
	TradeStatusPartialFailure TradeStatus = "partial_failure"
	TradeStatusResolving      TradeStatus = "resolving"
	TradeStatusResolved       TradeStatus = "resolved"
	TradeStatusAborted        TradeStatus = "aborted"
)

// Terminal reports whether the status is a final state of the machine.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusCompleted, TradeStatusResolved, TradeStatusAborted:
		return true
	default:
		return false
	}
}

// InFlight reports whether a trade in this status holds the execution slot.
func (s TradeStatus) InFlight() bool {
	switch s {
	case TradeStatusPending, TradeStatusExecuting, TradeStatusResolving:
		return true
	default:
		return false
	}
}

// LegFill records the outcome of one leg order.
type LegFill struct {
	Index      int       `json:"index"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	AmountIn   float64   `json:"amount_in"`
	AmountOut  float64   `json:"amount_out"`
	FillPrice  float64   `json:"fill_price"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// LiveTrade is one execution attempt of an Opportunity. The held/resolution
// fields stay nullable rather than variant-specific so the persisted shape
// mirrors the storage schema; code should branch on Status, not on field
// presence.
type LiveTrade struct {
	ID                string      `json:"id"`
	OpportunityID     string      `json:"opportunity_id"`
	Path              []Currency  `json:"path"`
	Pairs             []string    `json:"pairs"`
	LegCount          int         `json:"leg_count"`
	AmountIn          float64     `json:"amount_in"`
	AmountOut         *float64    `json:"amount_out"` // nil until the cycle completes
	ExpectedProfitPct float64     `json:"expected_profit_pct"`
	ProfitLoss        float64     `json:"profit_loss"`
	ProfitPct         float64     `json:"profit_pct"`
	Status            TradeStatus `json:"status"`
	CurrentLeg        int         `json:"current_leg"`
	Legs              []LegFill   `json:"legs"`
	ErrorReason       string      `json:"error_reason,omitempty"`

	// Set when a leg fails after earlier legs succeeded.
	HeldCurrency *Currency `json:"held_currency"`
	HeldAmount   *float64  `json:"held_amount"`

	// Set once the stranded balance is liquidated back to the start currency.
	ResolvedAt        *time.Time `json:"resolved_at"`
	ResolutionValue   *float64   `json:"resolution_value"`
	ResolutionTradeID *string    `json:"resolution_trade_id"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ExecutionTimeMs is the summed duration of all recorded legs, exposed for
// latency monitoring.
func (t LiveTrade) ExecutionTimeMs() int64 {
	var total int64
	for _, leg := range t.Legs {
		total += leg.DurationMs
	}
	return total
}

// SlippagePct is realized minus expected profit percentage. Meaningful only
// for completed trades.
func (t LiveTrade) SlippagePct() float64 {
	return t.ProfitPct - t.ExpectedProfitPct
}
