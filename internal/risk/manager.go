// Package risk owns the live trading state and gates every execution
// attempt. All mutation of the state goes through the Manager; other
// components only ever see copies.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// Manager applies approval gates before a trade starts and folds finalized
// trades back into the profit-and-loss counters, tripping the circuit
// breaker when a loss limit is breached.
type Manager struct {
	mu    sync.Mutex
	state domain.LiveTradingState

	store  domain.StateStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger

	now func() time.Time // test seam
}

// NewManager creates a Manager with a zeroed state. Call Restore to load the
// persisted state before trading.
func NewManager(store domain.StateStore, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "risk_manager")),
		now:    func() time.Time { return time.Now().UTC() },
		state: domain.LiveTradingState{
			DailyResetAt: time.Now().UTC().Truncate(24 * time.Hour),
		},
	}
}

// Restore loads the persisted session state. A missing row is not an error;
// the manager starts fresh. The in-flight flag is always cleared on restore:
// a restart means no order loop is running.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("risk: load state: %w", err)
	}
	m.mu.Lock()
	st.IsExecuting = false
	st.CurrentTradeID = ""
	m.state = st
	m.mu.Unlock()
	return nil
}

// State returns a copy of the current session state.
func (m *Manager) State() domain.LiveTradingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Approve decides whether the executor may start a trade for the given
// opportunity. On success it atomically claims the execution slot
// (is_executing + current_trade_id) so concurrent approvals cannot both
// pass; the claim is released by Record when the trade finalizes.
func (m *Manager) Approve(ctx context.Context, opp domain.Opportunity, cfg domain.LiveTradingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(m.now())

	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Enabled {
		return domain.ErrTradingDisabled
	}
	if m.state.CircuitBreakerTripped {
		return fmt.Errorf("%w: %s", domain.ErrCircuitBreaker, m.state.CircuitBreakerReason)
	}
	if m.state.IsExecuting {
		return fmt.Errorf("%w: trade %s", domain.ErrTradeInFlight, m.state.CurrentTradeID)
	}
	if opp.NetProfitPct < cfg.MinProfitPct {
		return fmt.Errorf("%w: %.4f%% < %.4f%%", domain.ErrBelowThreshold, opp.NetProfitPct, cfg.MinProfitPct)
	}
	if !opp.Executable || opp.MinVolumeAvailable < cfg.TradeAmount {
		return fmt.Errorf("%w: %.2f available, %.2f required",
			domain.ErrInsufficientLiquidity, opp.MinVolumeAvailable, cfg.TradeAmount)
	}

	m.state.IsExecuting = true
	m.state.CurrentTradeID = opp.ID
	m.persistLocked(ctx)

	m.logger.InfoContext(ctx, "opportunity approved",
		slog.String("opp_id", opp.ID),
		slog.String("path", opp.Path()),
		slog.Float64("net_profit_pct", opp.NetProfitPct),
	)
	return nil
}

// AttachTrade swaps the claimed slot's id from the opportunity to the trade
// created for it.
func (m *Manager) AttachTrade(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsExecuting {
		m.state.CurrentTradeID = tradeID
	}
}

// Record folds a finalized trade into the counters, releases the execution
// slot, and trips the circuit breaker when a loss limit is breached.
func (m *Manager) Record(ctx context.Context, trade domain.LiveTrade, cfg domain.LiveTradingConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rolloverLocked(now)

	m.state.IsExecuting = false
	m.state.CurrentTradeID = ""
	ts := now
	m.state.LastTradeAt = &ts

	switch trade.Status {
	case domain.TradeStatusCompleted, domain.TradeStatusResolved:
		m.state.TradeCount++
		m.state.TotalAmountTraded += trade.AmountIn
		if trade.ProfitLoss >= 0 {
			m.state.DailyProfit += trade.ProfitLoss
			m.state.TotalProfit += trade.ProfitLoss
			m.state.WinCount++
		} else {
			loss := -trade.ProfitLoss
			m.state.DailyLoss += loss
			m.state.TotalLoss += loss
		}
		if trade.Status == domain.TradeStatusResolved {
			m.partialLocked(trade)
		}
	case domain.TradeStatusPartialFailure:
		// Resolution gave up; only the estimated partial counters move until
		// an operator liquidates the held balance.
		m.partialLocked(trade)
	case domain.TradeStatusAborted:
		// No capital was at risk.
	}

	m.tripLocked(ctx, cfg)
	m.persistLocked(ctx)
	m.publishStateLocked(ctx)

	m.logger.InfoContext(ctx, "trade recorded",
		slog.String("trade_id", trade.ID),
		slog.String("status", string(trade.Status)),
		slog.Float64("profit_loss", trade.ProfitLoss),
		slog.Float64("daily_loss", m.state.DailyLoss),
	)
}

// ClearBreaker re-enables approvals. This is an explicit operator action;
// the breaker never resets on its own.
func (m *Manager) ClearBreaker(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CircuitBreakerTripped {
		return
	}
	m.state.CircuitBreakerTripped = false
	m.state.CircuitBreakerReason = ""
	m.state.CircuitBreakerAt = nil
	m.persistLocked(ctx)
	m.publishStateLocked(ctx)

	if m.audit != nil {
		if err := m.audit.Log(ctx, "circuit_breaker_cleared", nil); err != nil {
			m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	m.logger.WarnContext(ctx, "circuit breaker cleared by operator")
}

// MaybeRollover resets the daily counters when the reset boundary has
// passed. Called from the engine loop; Approve and Record also check.
func (m *Manager) MaybeRollover(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolloverLocked(m.now()) {
		m.persistLocked(ctx)
	}
}

func (m *Manager) rolloverLocked(now time.Time) bool {
	if now.Sub(m.state.DailyResetAt) < 24*time.Hour {
		return false
	}
	m.state.DailyProfit = 0
	m.state.DailyLoss = 0
	m.state.DailyResetAt = now.Truncate(24 * time.Hour)
	m.logger.Info("daily counters reset",
		slog.Time("reset_at", m.state.DailyResetAt),
	)
	return true
}

func (m *Manager) partialLocked(trade domain.LiveTrade) {
	m.state.PartialTradeCount++
	m.state.PartialAmount += trade.AmountIn
	if trade.ProfitLoss >= 0 {
		m.state.PartialEstimatedProfit += trade.ProfitLoss
	} else {
		m.state.PartialEstimatedLoss += -trade.ProfitLoss
	}
}

func (m *Manager) tripLocked(ctx context.Context, cfg domain.LiveTradingConfig) {
	if m.state.CircuitBreakerTripped {
		return
	}
	var reason string
	switch {
	case cfg.MaxDailyLoss > 0 && m.state.DailyLoss >= cfg.MaxDailyLoss:
		reason = fmt.Sprintf("daily loss %.2f reached limit %.2f", m.state.DailyLoss, cfg.MaxDailyLoss)
	case cfg.MaxTotalLoss > 0 && m.state.TotalLoss >= cfg.MaxTotalLoss:
		reason = fmt.Sprintf("total loss %.2f reached limit %.2f", m.state.TotalLoss, cfg.MaxTotalLoss)
	default:
		return
	}

	ts := m.now()
	m.state.CircuitBreakerTripped = true
	m.state.CircuitBreakerReason = reason
	m.state.CircuitBreakerAt = &ts

	if m.audit != nil {
		if err := m.audit.Log(ctx, "circuit_breaker_tripped", map[string]any{
			"reason":     reason,
			"daily_loss": m.state.DailyLoss,
			"total_loss": m.state.TotalLoss,
		}); err != nil {
			m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	m.logger.ErrorContext(ctx, "circuit breaker tripped", slog.String("reason", reason))
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, m.state); err != nil {
		m.logger.WarnContext(ctx, "state persist failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publishStateLocked(ctx context.Context) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event": "state_updated",
		"state": m.state,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, "state", payload); err != nil {
		m.logger.WarnContext(ctx, "state publish failed", slog.String("error", err.Error()))
	}
}
