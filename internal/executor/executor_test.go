package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// scriptedOrders replays canned responses keyed by call order.
type scriptedOrders struct {
	fills []domain.OrderFill
	errs  []error
	calls []submittedOrder
	delay time.Duration
}

type submittedOrder struct {
	Symbol   string
	Side     domain.OrderSide
	AmountIn float64
}

func (s *scriptedOrders) SubmitOrder(ctx context.Context, symbol string, side domain.OrderSide, amountIn float64) (domain.OrderFill, error) {
	i := len(s.calls)
	s.calls = append(s.calls, submittedOrder{symbol, side, amountIn})
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.OrderFill{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.OrderFill{}, s.errs[i]
	}
	if i < len(s.fills) {
		return s.fills[i], nil
	}
	return domain.OrderFill{}, errors.New("no scripted response")
}

type stubEdges struct {
	edge domain.Edge
	ok   bool
}

func (s stubEdges) DirectEdge(from, to domain.Currency) (domain.Edge, bool) {
	return s.edge, s.ok
}

type recordingRisk struct {
	attached []string
	recorded []domain.LiveTrade
}

func (r *recordingRisk) AttachTrade(id string) { r.attached = append(r.attached, id) }
func (r *recordingRisk) Record(ctx context.Context, trade domain.LiveTrade, cfg domain.LiveTradingConfig) {
	r.recorded = append(r.recorded, trade)
}

type recordingAlerter struct {
	events []string
}

func (a *recordingAlerter) Notify(ctx context.Context, event, title, message string) error {
	a.events = append(a.events, event)
	return nil
}

func triangleOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:            "opp-1",
		StartCurrency: "USDT",
		AmountIn:      10_000,
		NetProfitPct:  3.2,
		Legs: []domain.OpportunityLeg{
			{Symbol: "BTCUSDT", From: "USDT", To: "BTC", Side: domain.OrderSideBuy, Price: 50_000, FeeRate: 0.0026},
			{Symbol: "ETHBTC", From: "BTC", To: "ETH", Side: domain.OrderSideBuy, Price: 0.05, FeeRate: 0.0026},
			{Symbol: "ETHUSDT", From: "ETH", To: "USDT", Side: domain.OrderSideSell, Price: 2_600, FeeRate: 0.0026},
		},
		MinVolumeAvailable: 50_000,
		Executable:         true,
	}
}

func execConfig() domain.LiveTradingConfig {
	return domain.LiveTradingConfig{
		Enabled:               true,
		TradeAmount:           10_000,
		StartCurrencies:       []domain.Currency{"USDT"},
		MaxPathLegs:           4,
		MaxDailyLoss:          1_000,
		MaxTotalLoss:          5_000,
		TakerFeeRate:          0.0026,
		FeePolicy:             domain.FeePolicyTaker,
		LegTimeout:            time.Second,
		MaxResolutionAttempts: 3,
	}
}

func newTestExecutor(orders OrderSubmitter, edges EdgeFinder, riskMgr Recorder, alerter Alerter) *Executor {
	e := New(orders, edges, riskMgr, nil, nil, alerter, slog.Default())
	e.backoffMin = time.Millisecond
	e.backoffMax = 2 * time.Millisecond
	return e
}

func TestExecuteCompletesAllLegs(t *testing.T) {
	orders := &scriptedOrders{
		fills: []domain.OrderFill{
			{OrderID: "o1", FilledAmount: 0.1994, FillPrice: 50_050},
			{OrderID: "o2", FilledAmount: 3.97, FillPrice: 0.0501},
			{OrderID: "o3", FilledAmount: 10_290, FillPrice: 2_598},
		},
	}
	riskMgr := &recordingRisk{}
	e := newTestExecutor(orders, stubEdges{}, riskMgr, nil)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	assert.Equal(t, domain.TradeStatusCompleted, trade.Status)
	require.NotNil(t, trade.AmountOut)
	assert.Equal(t, 10_290.0, *trade.AmountOut)
	assert.InDelta(t, 290.0, trade.ProfitLoss, 1e-9)
	assert.InDelta(t, 2.9, trade.ProfitPct, 1e-9)
	require.NotNil(t, trade.CompletedAt)

	// Each leg consumes the previous leg's output.
	require.Len(t, orders.calls, 3)
	assert.Equal(t, 10_000.0, orders.calls[0].AmountIn)
	assert.Equal(t, 0.1994, orders.calls[1].AmountIn)
	assert.Equal(t, 3.97, orders.calls[2].AmountIn)

	require.Len(t, trade.Legs, 3)
	for _, leg := range trade.Legs {
		assert.True(t, leg.Success)
	}
	assert.Nil(t, trade.HeldCurrency)

	require.Len(t, riskMgr.recorded, 1)
	assert.Equal(t, domain.TradeStatusCompleted, riskMgr.recorded[0].Status)
	require.Len(t, riskMgr.attached, 1)
	assert.Equal(t, trade.ID, riskMgr.attached[0])
}

func TestExecuteAbortsOnFirstLegFailure(t *testing.T) {
	orders := &scriptedOrders{errs: []error{errors.New("insufficient balance")}}
	riskMgr := &recordingRisk{}
	e := newTestExecutor(orders, stubEdges{}, riskMgr, nil)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	assert.Equal(t, domain.TradeStatusAborted, trade.Status)
	assert.Contains(t, trade.ErrorReason, "insufficient balance")
	assert.Nil(t, trade.HeldCurrency)
	assert.Nil(t, trade.AmountOut)
	require.Len(t, riskMgr.recorded, 1)
	assert.Equal(t, domain.TradeStatusAborted, riskMgr.recorded[0].Status)
}

func TestExecutePartialFailureThenResolved(t *testing.T) {
	orders := &scriptedOrders{
		fills: []domain.OrderFill{
			{OrderID: "o1", FilledAmount: 0.1994, FillPrice: 50_050},
			{},
			{OrderID: "liq-1", FilledAmount: 9_940, FillPrice: 49_850},
		},
		errs: []error{nil, errors.New("order rejected")},
	}
	edges := stubEdges{
		edge: domain.Edge{Symbol: "BTCUSDT", From: "BTC", To: "USDT", Side: domain.OrderSideSell, Price: 49_900},
		ok:   true,
	}
	riskMgr := &recordingRisk{}
	e := newTestExecutor(orders, edges, riskMgr, nil)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	assert.Equal(t, domain.TradeStatusResolved, trade.Status)
	require.NotNil(t, trade.HeldCurrency)
	assert.Equal(t, domain.Currency("BTC"), *trade.HeldCurrency)
	require.NotNil(t, trade.HeldAmount)
	assert.Equal(t, 0.1994, *trade.HeldAmount)

	require.NotNil(t, trade.ResolvedAt)
	require.NotNil(t, trade.ResolutionValue)
	assert.Equal(t, 9_940.0, *trade.ResolutionValue)
	require.NotNil(t, trade.ResolutionTradeID)
	assert.Equal(t, "liq-1", *trade.ResolutionTradeID)
	assert.InDelta(t, -60.0, trade.ProfitLoss, 1e-9)

	// The resolution order sold the held BTC back into USDT.
	require.Len(t, orders.calls, 3)
	assert.Equal(t, "BTCUSDT", orders.calls[2].Symbol)
	assert.Equal(t, domain.OrderSideSell, orders.calls[2].Side)
	assert.Equal(t, 0.1994, orders.calls[2].AmountIn)

	require.Len(t, riskMgr.recorded, 1)
	assert.Equal(t, domain.TradeStatusResolved, riskMgr.recorded[0].Status)
}

func TestExecuteResolutionExhaustedAlerts(t *testing.T) {
	orders := &scriptedOrders{
		fills: []domain.OrderFill{{OrderID: "o1", FilledAmount: 0.1994, FillPrice: 50_050}},
		errs: []error{
			nil,
			errors.New("order rejected"), // leg 1
			errors.New("venue down"),     // resolution 1
			errors.New("venue down"),     // resolution 2
			errors.New("venue down"),     // resolution 3
		},
	}
	edges := stubEdges{
		edge: domain.Edge{Symbol: "BTCUSDT", From: "BTC", To: "USDT", Side: domain.OrderSideSell, Price: 49_900},
		ok:   true,
	}
	riskMgr := &recordingRisk{}
	alerter := &recordingAlerter{}
	e := newTestExecutor(orders, edges, riskMgr, alerter)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	assert.Equal(t, domain.TradeStatusPartialFailure, trade.Status)
	assert.Nil(t, trade.ResolvedAt)
	require.Len(t, orders.calls, 5, "one leg fill, one leg failure, three bounded resolution attempts")
	require.Len(t, riskMgr.recorded, 1)
	assert.Equal(t, domain.TradeStatusPartialFailure, riskMgr.recorded[0].Status)
	assert.Equal(t, []string{"partial_failure"}, alerter.events)

	// Estimated loss stands in for realized P/L until an operator resolves.
	assert.Less(t, trade.ProfitLoss, 0.0)
}

func TestExecuteLegTimeoutIsLegFailure(t *testing.T) {
	orders := &scriptedOrders{delay: 200 * time.Millisecond}
	riskMgr := &recordingRisk{}
	e := newTestExecutor(orders, stubEdges{}, riskMgr, nil)

	cfg := execConfig()
	cfg.LegTimeout = 10 * time.Millisecond

	trade := e.Execute(context.Background(), triangleOpp(), cfg)

	assert.Equal(t, domain.TradeStatusAborted, trade.Status)
	require.Len(t, trade.Legs, 1)
	assert.False(t, trade.Legs[0].Success)
	assert.Contains(t, trade.Legs[0].Error, "timed out")
}

func TestExecuteLegDurationsRecorded(t *testing.T) {
	orders := &scriptedOrders{
		fills: []domain.OrderFill{
			{OrderID: "o1", FilledAmount: 1, FillPrice: 1},
			{OrderID: "o2", FilledAmount: 1, FillPrice: 1},
			{OrderID: "o3", FilledAmount: 10_100, FillPrice: 1},
		},
		delay: 5 * time.Millisecond,
	}
	e := newTestExecutor(orders, stubEdges{}, &recordingRisk{}, nil)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	var sum int64
	for _, leg := range trade.Legs {
		assert.GreaterOrEqual(t, leg.DurationMs, int64(5))
		sum += leg.DurationMs
	}
	assert.Equal(t, sum, trade.ExecutionTimeMs())
}

func TestEstimateHeldValue(t *testing.T) {
	e := newTestExecutor(&scriptedOrders{}, stubEdges{}, &recordingRisk{}, nil)
	opp := triangleOpp()

	// Held 0.2 BTC after leg 1 failed: estimate walks the remaining legs.
	f := 0.0026
	want := 0.2 / 0.05 * (1 - f) * 2_600 * (1 - f)
	got := e.estimateHeldValue(opp, 1, 0.2)
	assert.InDelta(t, want, got, 1e-9)
}

func TestExecuteResolutionWithoutDirectMarket(t *testing.T) {
	orders := &scriptedOrders{
		fills: []domain.OrderFill{{OrderID: "o1", FilledAmount: 0.1994, FillPrice: 50_050}},
		errs:  []error{nil, errors.New("order rejected")},
	}
	riskMgr := &recordingRisk{}
	alerter := &recordingAlerter{}
	e := newTestExecutor(orders, stubEdges{ok: false}, riskMgr, alerter)

	trade := e.Execute(context.Background(), triangleOpp(), execConfig())

	// No market to liquidate through: all attempts fail, trade surfaces as
	// unhealthy rather than silently retrying forever.
	assert.Equal(t, domain.TradeStatusPartialFailure, trade.Status)
	require.Len(t, orders.calls, 2, "no orders placed without a direct market")
	assert.NotEmpty(t, alerter.events)
}
