package domain

import (
	"strings"
	"time"
)

// OpportunityLeg is one conversion step of a candidate cycle, carrying a
// snapshot of the price used so the record stays stable after quotes move.
type OpportunityLeg struct {
	Symbol        string    `json:"symbol"`
	From          Currency  `json:"from"`
	To            Currency  `json:"to"`
	Side          OrderSide `json:"side"`
	Price         float64   `json:"price"`
	FeeRate       float64   `json:"fee_rate"`
	AvailableFrom float64   `json:"available_from"`
}

// Opportunity is a candidate profitable cycle produced by one detector scan.
// It is immutable once created: either discarded below threshold or handed
// to the executor as-is.
type Opportunity struct {
	ID             string           `json:"id"`
	StartCurrency  Currency         `json:"start_currency"`
	Legs           []OpportunityLeg `json:"legs"`
	AmountIn       float64          `json:"amount_in"`
	AmountOut      float64          `json:"amount_out"`
	GrossProfitPct float64          `json:"gross_profit_pct"`
	TotalFeesPct   float64          `json:"total_fees_pct"`
	NetProfitPct   float64          `json:"net_profit_pct"`
	// MinVolumeAvailable is the binding liquidity constraint: the smallest
	// per-leg available volume converted to the start-currency basis.
	MinVolumeAvailable float64   `json:"min_volume_available"`
	Executable         bool      `json:"executable"`
	DetectedAt         time.Time `json:"detected_at"`
}

// Path renders the cycle as "USDT->BTC->ETH->USDT". Display only; the legs
// slice is the canonical representation.
func (o Opportunity) Path() string {
	if len(o.Legs) == 0 {
		return string(o.StartCurrency)
	}
	var b strings.Builder
	b.WriteString(string(o.Legs[0].From))
	for _, leg := range o.Legs {
		b.WriteString("->")
		b.WriteString(string(leg.To))
	}
	return b.String()
}

// Currencies returns the ordered node sequence of the cycle, start currency
// included at both ends.
func (o Opportunity) Currencies() []Currency {
	if len(o.Legs) == 0 {
		return nil
	}
	out := make([]Currency, 0, len(o.Legs)+1)
	out = append(out, o.Legs[0].From)
	for _, leg := range o.Legs {
		out = append(out, leg.To)
	}
	return out
}
