package risk

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
)

func validConfig() domain.LiveTradingConfig {
	return domain.LiveTradingConfig{
		Enabled:               true,
		TradeAmount:           1_000,
		MinProfitPct:          0.5,
		MaxDailyLoss:          150,
		MaxTotalLoss:          500,
		StartCurrencies:       []domain.Currency{"USDT"},
		MaxPathLegs:           4,
		TakerFeeRate:          0.0026,
		FeePolicy:             domain.FeePolicyTaker,
		LegTimeout:            5 * time.Second,
		MaxResolutionAttempts: 3,
	}
}

func executableOpp(id string, netPct float64) domain.Opportunity {
	return domain.Opportunity{
		ID:                 id,
		StartCurrency:      "USDT",
		AmountIn:           1_000,
		NetProfitPct:       netPct,
		MinVolumeAvailable: 5_000,
		Executable:         true,
	}
}

func newTestManager() *Manager {
	return NewManager(nil, nil, nil, slog.Default())
}

func finalized(id string, status domain.TradeStatus, pl float64) domain.LiveTrade {
	return domain.LiveTrade{ID: id, AmountIn: 1_000, ProfitLoss: pl, Status: status}
}

func TestApproveHappyPath(t *testing.T) {
	m := newTestManager()
	cfg := validConfig()

	require.NoError(t, m.Approve(context.Background(), executableOpp("opp-1", 1.0), cfg))

	st := m.State()
	assert.True(t, st.IsExecuting)
	assert.Equal(t, "opp-1", st.CurrentTradeID)
}

func TestApproveRefusals(t *testing.T) {
	ctx := context.Background()
	opp := executableOpp("opp-1", 1.0)

	t.Run("disabled", func(t *testing.T) {
		m := newTestManager()
		cfg := validConfig()
		cfg.Enabled = false
		assert.ErrorIs(t, m.Approve(ctx, opp, cfg), domain.ErrTradingDisabled)
	})

	t.Run("invalid config", func(t *testing.T) {
		m := newTestManager()
		cfg := validConfig()
		cfg.TradeAmount = 0
		assert.ErrorIs(t, m.Approve(ctx, opp, cfg), domain.ErrInvalidConfig)
	})

	t.Run("below threshold", func(t *testing.T) {
		m := newTestManager()
		low := executableOpp("opp-2", 0.1)
		assert.ErrorIs(t, m.Approve(ctx, low, validConfig()), domain.ErrBelowThreshold)
	})

	t.Run("insufficient liquidity", func(t *testing.T) {
		m := newTestManager()
		thin := executableOpp("opp-3", 1.0)
		thin.Executable = false
		thin.MinVolumeAvailable = 100
		assert.ErrorIs(t, m.Approve(ctx, thin, validConfig()), domain.ErrInsufficientLiquidity)
	})

	t.Run("trade in flight", func(t *testing.T) {
		m := newTestManager()
		require.NoError(t, m.Approve(ctx, opp, validConfig()))
		assert.ErrorIs(t, m.Approve(ctx, executableOpp("opp-4", 2.0), validConfig()), domain.ErrTradeInFlight)
	})
}

// At most one approval may win under concurrent attempts.
func TestApproveConcurrentSingleWinner(t *testing.T) {
	m := newTestManager()
	cfg := validConfig()

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			opp := executableOpp(string(rune('a'+n%26)), 1.0)
			if err := m.Approve(context.Background(), opp, cfg); err == nil {
				wins <- opp.ID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], m.State().CurrentTradeID)
}

func TestRecordReleasesSlotAndCounts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig()

	require.NoError(t, m.Approve(ctx, executableOpp("opp-1", 1.0), cfg))
	m.AttachTrade("trade-1")
	assert.Equal(t, "trade-1", m.State().CurrentTradeID)

	m.Record(ctx, finalized("trade-1", domain.TradeStatusCompleted, 12.5), cfg)

	st := m.State()
	assert.False(t, st.IsExecuting)
	assert.Empty(t, st.CurrentTradeID)
	assert.Equal(t, int64(1), st.TradeCount)
	assert.Equal(t, int64(1), st.WinCount)
	assert.Equal(t, 12.5, st.DailyProfit)
	assert.Equal(t, 12.5, st.TotalProfit)
	assert.Equal(t, 1_000.0, st.TotalAmountTraded)
	require.NotNil(t, st.LastTradeAt)

	// A new approval succeeds once the slot is free.
	assert.NoError(t, m.Approve(ctx, executableOpp("opp-2", 1.0), cfg))
}

// Three consecutive losses summing to exactly the daily limit must trip the
// breaker no later than the third finalization.
func TestCircuitBreakerTripsAtDailyLossLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig() // MaxDailyLoss: 150

	for i, loss := range []float64{-50, -50, -50} {
		require.NoError(t, m.Approve(ctx, executableOpp("opp", 1.0), cfg), "trade %d", i)
		m.Record(ctx, finalized("trade", domain.TradeStatusCompleted, loss), cfg)
	}

	st := m.State()
	assert.True(t, st.CircuitBreakerTripped)
	assert.Contains(t, st.CircuitBreakerReason, "daily loss")
	require.NotNil(t, st.CircuitBreakerAt)

	err := m.Approve(ctx, executableOpp("opp-next", 5.0), cfg)
	assert.ErrorIs(t, err, domain.ErrCircuitBreaker)

	// Re-enabling is an explicit operator action.
	m.ClearBreaker(ctx)
	assert.NoError(t, m.Approve(ctx, executableOpp("opp-after", 1.0), cfg))
}

func TestCircuitBreakerTripsOnTotalLoss(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig()
	cfg.MaxDailyLoss = 10_000 // out of the way
	cfg.MaxTotalLoss = 100

	require.NoError(t, m.Approve(ctx, executableOpp("opp", 1.0), cfg))
	m.Record(ctx, finalized("trade", domain.TradeStatusCompleted, -100), cfg)

	st := m.State()
	assert.True(t, st.CircuitBreakerTripped)
	assert.Contains(t, st.CircuitBreakerReason, "total loss")
}

func TestRecordPartialCounters(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig()

	// Terminal-unhealthy partial: estimated counters only.
	require.NoError(t, m.Approve(ctx, executableOpp("opp-1", 1.0), cfg))
	m.Record(ctx, finalized("trade-1", domain.TradeStatusPartialFailure, -40), cfg)

	st := m.State()
	assert.Equal(t, int64(1), st.PartialTradeCount)
	assert.Equal(t, 40.0, st.PartialEstimatedLoss)
	assert.Equal(t, int64(0), st.TradeCount, "main counters wait for resolution")
	assert.Equal(t, 0.0, st.DailyLoss)

	// Resolved partial: realized value lands in the main counters too.
	require.NoError(t, m.Approve(ctx, executableOpp("opp-2", 1.0), cfg))
	m.Record(ctx, finalized("trade-2", domain.TradeStatusResolved, -30), cfg)

	st = m.State()
	assert.Equal(t, int64(2), st.PartialTradeCount)
	assert.Equal(t, int64(1), st.TradeCount)
	assert.Equal(t, 30.0, st.DailyLoss)
	assert.Equal(t, 30.0, st.TotalLoss)
}

func TestRecordAbortedLeavesCountersUntouched(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig()

	require.NoError(t, m.Approve(ctx, executableOpp("opp-1", 1.0), cfg))
	m.Record(ctx, finalized("trade-1", domain.TradeStatusAborted, 0), cfg)

	st := m.State()
	assert.False(t, st.IsExecuting)
	assert.Equal(t, int64(0), st.TradeCount)
	assert.Equal(t, 0.0, st.TotalAmountTraded)
}

func TestDailyRollover(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	cfg := validConfig()

	require.NoError(t, m.Approve(ctx, executableOpp("opp-1", 1.0), cfg))
	m.Record(ctx, finalized("trade-1", domain.TradeStatusCompleted, -20), cfg)
	require.Equal(t, 20.0, m.State().DailyLoss)

	// Jump the clock past the reset boundary.
	base := time.Now().UTC().Add(25 * time.Hour)
	m.now = func() time.Time { return base }
	m.MaybeRollover(ctx)

	st := m.State()
	assert.Equal(t, 0.0, st.DailyLoss)
	assert.Equal(t, 0.0, st.DailyProfit)
	assert.Equal(t, 20.0, st.TotalLoss, "lifetime counters survive the rollover")
}
