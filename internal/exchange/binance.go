// Package exchange places spot market orders on Binance. It is the only
// package that talks to the trading endpoints; everything above it works with
// domain.OrderFill.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// Binance submits market orders through the spot REST API.
type Binance struct {
	client *binance.Client
	logger *slog.Logger
}

// ClientConfig holds exchange credentials.
type ClientConfig struct {
	ApiKey     string
	ApiSecret  string
	UseTestnet bool
}

// NewClient builds the underlying go-binance client. UseTestnet points both
// REST and websocket endpoints at the spot testnet.
func NewClient(cfg ClientConfig) *binance.Client {
	binance.UseTestnet = cfg.UseTestnet
	return binance.NewClient(cfg.ApiKey, cfg.ApiSecret)
}

// New creates a Binance order submitter.
func New(client *binance.Client, logger *slog.Logger) *Binance {
	return &Binance{
		client: client,
		logger: logger.With(slog.String("component", "exchange")),
	}
}

// SubmitOrder places one market order. For buys amountIn is the quote amount
// to spend (QUOTE_ORDER_QTY); for sells it is the base quantity to sell. The
// returned fill amount is expressed in the conversion's output currency, net
// of commissions charged in that currency.
func (b *Binance) SubmitOrder(ctx context.Context, symbol string, side domain.OrderSide, amountIn float64) (domain.OrderFill, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Type(binance.OrderTypeMarket)

	qty := strconv.FormatFloat(amountIn, 'f', 8, 64)
	switch side {
	case domain.OrderSideBuy:
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(qty)
	case domain.OrderSideSell:
		svc = svc.Side(binance.SideTypeSell).Quantity(qty)
	default:
		return domain.OrderFill{}, fmt.Errorf("exchange: unknown order side %q", side)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("exchange: submit %s %s: %w", side, symbol, err)
	}

	baseFilled, err := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("exchange: parse executed quantity %q: %w", resp.ExecutedQuantity, err)
	}
	quoteFilled, err := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("exchange: parse quote quantity %q: %w", resp.CummulativeQuoteQuantity, err)
	}
	if baseFilled <= 0 || quoteFilled <= 0 {
		return domain.OrderFill{}, fmt.Errorf("exchange: order %d on %s filled nothing", resp.OrderID, symbol)
	}

	fill := domain.OrderFill{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		FillPrice: quoteFilled / baseFilled,
	}
	if side == domain.OrderSideBuy {
		fill.FilledAmount = baseFilled - receivedAssetCommission(resp.Fills)
	} else {
		fill.FilledAmount = quoteFilled - receivedAssetCommission(resp.Fills)
	}

	b.logger.InfoContext(ctx, "order filled",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("order_id", fill.OrderID),
		slog.Float64("amount_in", amountIn),
		slog.Float64("amount_out", fill.FilledAmount),
		slog.Float64("fill_price", fill.FillPrice),
	)
	return fill, nil
}

// receivedAssetCommission sums the commissions charged in the asset the
// order received. Binance charges commission on the received asset unless
// the account pays fees in BNB, in which case the fill amount is untouched.
func receivedAssetCommission(fills []*binance.Fill) float64 {
	var total float64
	for _, f := range fills {
		if f.CommissionAsset == "BNB" {
			continue
		}
		c, err := strconv.ParseFloat(f.Commission, 64)
		if err != nil {
			continue
		}
		total += c
	}
	return total
}

// Compile-time interface check against the executor's contract.
var _ interface {
	SubmitOrder(ctx context.Context, symbol string, side domain.OrderSide, amountIn float64) (domain.OrderFill, error)
} = (*Binance)(nil)
