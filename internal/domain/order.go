package domain

// OrderFill is the exchange's response to a market order submission.
// FilledAmount is expressed in the output currency of the conversion: the
// base amount for buys, the quote amount for sells.
type OrderFill struct {
	OrderID      string  `json:"order_id"`
	FilledAmount float64 `json:"filled_amount"`
	FillPrice    float64 `json:"fill_price"`
}
