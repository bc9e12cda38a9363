package domain

import "time"

// Currency is a currency symbol, e.g. "BTC" or "USDT".
type Currency string

// OrderSide indicates whether a leg buys or sells the pair's base currency.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PairQuote is the live quote for one tradable market pair. It is the edge
// payload of the instrument graph: each pair yields two directed edges,
// base->quote (sell base at bid) and quote->base (buy base at ask).
type PairQuote struct {
	Symbol        string   `json:"symbol"` // exchange symbol, e.g. "BTCUSDT"
	Base          Currency `json:"base"`
	Quote         Currency `json:"quote"`
	Bid           float64  `json:"bid"`
	Ask           float64  `json:"ask"`
	BidVolume     float64  `json:"bid_volume"` // base units resting at the bid
	AskVolume     float64  `json:"ask_volume"` // base units resting at the ask
	Volume24h     float64  `json:"volume_24h"` // rolling 24h quote volume
	MinOrderQuote float64  `json:"min_order_quote"`
	MakerEligible bool     `json:"maker_eligible"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PairUpdate is one market-data tick for a pair. Zero-value volume fields
// leave the stored values untouched only when the update is stale; a fresh
// update always replaces the whole quote.
type PairUpdate struct {
	Symbol    string
	Base      Currency
	Quote     Currency
	Bid       float64
	Ask       float64
	BidVolume float64
	AskVolume float64
	Volume24h float64
	Timestamp time.Time
}

// Edge is one directed traversal of a pair inside a graph snapshot.
// Price is the quote applied when converting From into To: the ask when
// buying the base, the bid when selling it.
type Edge struct {
	Symbol    string
	From      Currency
	To        Currency
	Side      OrderSide
	Price     float64
	// AvailableFrom is the liquidity at the touch expressed in From-currency
	// units, so path search can compare it against the running amount.
	AvailableFrom float64
	Volume24h     float64
	MakerEligible bool
	UpdatedAt     time.Time
}

// Convert applies the edge's price to an amount expressed in the From
// currency and returns the resulting amount in the To currency, before fees.
func (e Edge) Convert(amount float64) float64 {
	if e.Side == OrderSideBuy {
		return amount / e.Price
	}
	return amount * e.Price
}
