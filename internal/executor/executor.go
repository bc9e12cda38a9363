// Package executor turns an approved opportunity into a sequence of market
// orders and owns the trade state machine, including recovery from legs
// that fail after capital has already moved.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// OrderSubmitter submits one market order. amountIn is expressed in the
// input currency of the conversion: the quote amount for buys, the base
// amount for sells. Implementations must respect the context deadline.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, symbol string, side domain.OrderSide, amountIn float64) (domain.OrderFill, error)
}

// EdgeFinder locates a single-pair conversion between two currencies. The
// instrument graph implements it.
type EdgeFinder interface {
	DirectEdge(from, to domain.Currency) (domain.Edge, bool)
}

// Recorder receives finalized trades. The risk manager implements it.
type Recorder interface {
	AttachTrade(tradeID string)
	Record(ctx context.Context, trade domain.LiveTrade, cfg domain.LiveTradingConfig)
}

// Alerter delivers operator notifications for unhealthy outcomes.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Executor places the legs of an opportunity one at a time; each leg
// depends on the previous leg's output currency, so there is nothing to
// parallelize. A failed middle leg triggers a bounded liquidation of the
// stranded balance back into the start currency.
type Executor struct {
	orders  OrderSubmitter
	edges   EdgeFinder
	risk    Recorder
	trades  domain.TradeStore
	bus     domain.SignalBus
	alerter Alerter
	logger  *slog.Logger

	// Resolution retry backoff bounds.
	backoffMin time.Duration
	backoffMax time.Duration
}

// New creates an Executor. trades, bus and alerter may be nil in detect-only
// wiring; orders, edges and risk are required.
func New(
	orders OrderSubmitter,
	edges EdgeFinder,
	riskMgr Recorder,
	trades domain.TradeStore,
	bus domain.SignalBus,
	alerter Alerter,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		orders:     orders,
		edges:      edges,
		risk:       riskMgr,
		trades:     trades,
		bus:        bus,
		alerter:    alerter,
		logger:     logger.With(slog.String("component", "executor")),
		backoffMin: 500 * time.Millisecond,
		backoffMax: 10 * time.Second,
	}
}

// Execute runs the full state machine for an already-approved opportunity
// and returns the finalized trade. The trade is always reported to the risk
// manager exactly once, whatever the outcome.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity, cfg domain.LiveTradingConfig) domain.LiveTrade {
	trade := domain.LiveTrade{
		ID:                uuid.New().String(),
		OpportunityID:     opp.ID,
		Path:              opp.Currencies(),
		LegCount:          len(opp.Legs),
		AmountIn:          opp.AmountIn,
		ExpectedProfitPct: opp.NetProfitPct,
		Status:            domain.TradeStatusPending,
		StartedAt:         time.Now().UTC(),
	}
	for _, leg := range opp.Legs {
		trade.Pairs = append(trade.Pairs, leg.Symbol)
	}
	e.risk.AttachTrade(trade.ID)

	// Detect-only wiring has no order submitter; refuse rather than panic if
	// trading was enabled through the API anyway.
	if e.orders == nil {
		e.persist(ctx, &trade, true)
		return e.finalizeAborted(ctx, &trade, cfg, "no order submitter configured in this mode")
	}

	e.persist(ctx, &trade, true)
	e.publish(ctx, "trade_started", trade)

	log := e.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("path", opp.Path()),
	)
	log.InfoContext(ctx, "trade execution started",
		slog.Float64("amount_in", trade.AmountIn),
		slog.Float64("expected_profit_pct", trade.ExpectedProfitPct),
	)

	amount := trade.AmountIn
	trade.Status = domain.TradeStatusExecuting
	for i, leg := range opp.Legs {
		trade.CurrentLeg = i

		fill, dur, err := e.submitLeg(ctx, leg.Symbol, leg.Side, amount, cfg.LegTimeout)
		rec := domain.LegFill{
			Index:      i,
			Symbol:     leg.Symbol,
			Side:       leg.Side,
			AmountIn:   amount,
			DurationMs: dur.Milliseconds(),
			Success:    err == nil,
		}
		if err != nil {
			rec.Error = err.Error()
			trade.Legs = append(trade.Legs, rec)
			e.persist(ctx, &trade, false)

			if i == 0 {
				// No capital committed yet.
				return e.finalizeAborted(ctx, &trade, cfg, fmt.Sprintf("leg 0 failed: %v", err))
			}
			return e.handlePartialFailure(ctx, &trade, opp, cfg, i, amount, log)
		}

		rec.AmountOut = fill.FilledAmount
		rec.FillPrice = fill.FillPrice
		trade.Legs = append(trade.Legs, rec)
		amount = fill.FilledAmount
		e.persist(ctx, &trade, false)

		log.InfoContext(ctx, "leg filled",
			slog.Int("leg", i),
			slog.String("symbol", leg.Symbol),
			slog.String("side", string(leg.Side)),
			slog.Float64("amount_out", amount),
			slog.Int64("duration_ms", rec.DurationMs),
		)
	}

	now := time.Now().UTC()
	out := amount
	trade.Status = domain.TradeStatusCompleted
	trade.AmountOut = &out
	trade.ProfitLoss = out - trade.AmountIn
	trade.ProfitPct = trade.ProfitLoss / trade.AmountIn * 100
	trade.CompletedAt = &now
	e.persist(ctx, &trade, false)
	e.risk.Record(ctx, trade, cfg)
	e.publish(ctx, "trade_completed", trade)

	log.InfoContext(ctx, "trade completed",
		slog.Float64("amount_out", out),
		slog.Float64("profit_loss", trade.ProfitLoss),
		slog.Float64("slippage_pct", trade.SlippagePct()),
		slog.Int64("execution_ms", trade.ExecutionTimeMs()),
	)
	return trade
}

// submitLeg places one order under the per-leg timeout. Exceeding the
// timeout is a leg failure, never an indefinite wait.
func (e *Executor) submitLeg(ctx context.Context, symbol string, side domain.OrderSide, amountIn float64, timeout time.Duration) (domain.OrderFill, time.Duration, error) {
	legCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		legCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	fill, err := e.orders.SubmitOrder(legCtx, symbol, side, amountIn)
	dur := time.Since(started)
	if err != nil {
		if legCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s after %s", domain.ErrLegTimeout, symbol, dur.Round(time.Millisecond))
		}
		return domain.OrderFill{}, dur, err
	}
	return fill, dur, nil
}

// handlePartialFailure records the stranded balance and attempts to
// liquidate it back into the start currency with bounded retries.
func (e *Executor) handlePartialFailure(
	ctx context.Context,
	trade *domain.LiveTrade,
	opp domain.Opportunity,
	cfg domain.LiveTradingConfig,
	failedLeg int,
	heldAmount float64,
	log *slog.Logger,
) domain.LiveTrade {
	held := opp.Legs[failedLeg].From
	trade.Status = domain.TradeStatusPartialFailure
	trade.HeldCurrency = &held
	trade.HeldAmount = &heldAmount
	trade.ErrorReason = trade.Legs[len(trade.Legs)-1].Error
	// Until resolution, profit/loss carries a snapshot-price estimate of the
	// held balance so the partial counters have something to work with.
	trade.ProfitLoss = e.estimateHeldValue(opp, failedLeg, heldAmount) - trade.AmountIn
	trade.ProfitPct = trade.ProfitLoss / trade.AmountIn * 100
	e.persist(ctx, trade, false)
	e.publish(ctx, "trade_partial", *trade)

	log.WarnContext(ctx, "partial failure, attempting resolution",
		slog.Int("failed_leg", failedLeg),
		slog.String("held_currency", string(held)),
		slog.Float64("held_amount", heldAmount),
	)

	trade.Status = domain.TradeStatusResolving
	e.persist(ctx, trade, false)

	b := &backoff.Backoff{
		Min:    e.backoffMin,
		Max:    e.backoffMax,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 1; attempt <= cfg.MaxResolutionAttempts; attempt++ {
		fill, err := e.liquidate(ctx, held, opp.StartCurrency, heldAmount, cfg.LegTimeout)
		if err == nil {
			now := time.Now().UTC()
			value := fill.FilledAmount
			trade.Status = domain.TradeStatusResolved
			trade.ResolvedAt = &now
			trade.ResolutionValue = &value
			trade.ResolutionTradeID = &fill.OrderID
			trade.ProfitLoss = value - trade.AmountIn
			trade.ProfitPct = trade.ProfitLoss / trade.AmountIn * 100
			trade.CompletedAt = &now
			e.persist(ctx, trade, false)
			e.risk.Record(ctx, *trade, cfg)
			e.publish(ctx, "trade_resolved", *trade)

			log.InfoContext(ctx, "held balance resolved",
				slog.Int("attempts", attempt),
				slog.Float64("resolution_value", value),
				slog.Float64("realized_pl", trade.ProfitLoss),
			)
			return *trade
		}

		log.WarnContext(ctx, "resolution attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxResolutionAttempts),
			slog.String("error", err.Error()),
		)
		if attempt < cfg.MaxResolutionAttempts {
			select {
			case <-ctx.Done():
				attempt = cfg.MaxResolutionAttempts
			case <-time.After(b.Duration()):
			}
		}
	}

	// Out of retries: terminal-unhealthy, needs an operator.
	trade.Status = domain.TradeStatusPartialFailure
	e.persist(ctx, trade, false)
	e.risk.Record(ctx, *trade, cfg)
	e.publish(ctx, "trade_unresolved", *trade)
	e.alert(ctx, "partial_failure",
		"Unresolved partial trade",
		fmt.Sprintf("Trade %s holds %.8f %s after leg %d failed; automatic liquidation gave up after %d attempts.",
			trade.ID, heldAmount, held, failedLeg, cfg.MaxResolutionAttempts))

	log.ErrorContext(ctx, "resolution exhausted, manual intervention required",
		slog.String("held_currency", string(held)),
		slog.Float64("held_amount", heldAmount),
	)
	return *trade
}

// liquidate market-sells the held balance back into the start currency
// through a direct pair.
func (e *Executor) liquidate(ctx context.Context, held, start domain.Currency, amount float64, timeout time.Duration) (domain.OrderFill, error) {
	edge, ok := e.edges.DirectEdge(held, start)
	if !ok {
		return domain.OrderFill{}, fmt.Errorf("no direct market from %s to %s", held, start)
	}
	fill, _, err := e.submitLeg(ctx, edge.Symbol, edge.Side, amount, timeout)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("liquidate %s via %s: %w", held, edge.Symbol, err)
	}
	return fill, nil
}

// estimateHeldValue prices the stranded balance in the start currency using
// the opportunity's remaining snapshot legs.
func (e *Executor) estimateHeldValue(opp domain.Opportunity, fromLeg int, amount float64) float64 {
	est := amount
	for _, leg := range opp.Legs[fromLeg:] {
		if leg.Side == domain.OrderSideBuy {
			est = est / leg.Price
		} else {
			est = est * leg.Price
		}
		est *= 1 - leg.FeeRate
	}
	return est
}

func (e *Executor) finalizeAborted(ctx context.Context, trade *domain.LiveTrade, cfg domain.LiveTradingConfig, reason string) domain.LiveTrade {
	now := time.Now().UTC()
	trade.Status = domain.TradeStatusAborted
	trade.ErrorReason = reason
	trade.CompletedAt = &now
	e.persist(ctx, trade, false)
	e.risk.Record(ctx, *trade, cfg)
	e.publish(ctx, "trade_aborted", *trade)

	e.logger.WarnContext(ctx, "trade aborted before capital was committed",
		slog.String("trade_id", trade.ID),
		slog.String("reason", reason),
	)
	return *trade
}

// persist writes the trade record. Storage failures degrade the audit trail
// but never interrupt an in-flight trade.
func (e *Executor) persist(ctx context.Context, trade *domain.LiveTrade, create bool) {
	if e.trades == nil {
		return
	}
	var err error
	if create {
		err = e.trades.Create(ctx, *trade)
	} else {
		err = e.trades.Update(ctx, *trade)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "trade persist failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) publish(ctx context.Context, event string, trade domain.LiveTrade) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event": event,
		"trade": trade,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "trades", payload); err != nil {
		e.logger.WarnContext(ctx, "trade event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	// Stream copy survives subscriber downtime; the events API replays it.
	if err := e.bus.StreamAppend(ctx, "trades", payload); err != nil {
		e.logger.WarnContext(ctx, "trade event stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) alert(ctx context.Context, event, title, message string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
