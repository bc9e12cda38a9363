package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// StateStore implements domain.StateStore. The trading state lives in a
// single row; the boolean primary key with a CHECK constraint enforces the
// singleton.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Save upserts the singleton state row.
func (s *StateStore) Save(ctx context.Context, state domain.LiveTradingState) error {
	const query = `
		INSERT INTO live_trading_state (
			id, daily_profit, daily_loss, total_profit, total_loss,
			trade_count, win_count, total_amount_traded,
			partial_trade_count, partial_estimated_loss, partial_estimated_profit, partial_amount,
			circuit_breaker_tripped, circuit_breaker_reason, circuit_breaker_at,
			is_executing, current_trade_id, last_trade_at, daily_reset_at, updated_at
		) VALUES (
			TRUE, $1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			daily_profit = EXCLUDED.daily_profit,
			daily_loss = EXCLUDED.daily_loss,
			total_profit = EXCLUDED.total_profit,
			total_loss = EXCLUDED.total_loss,
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count,
			total_amount_traded = EXCLUDED.total_amount_traded,
			partial_trade_count = EXCLUDED.partial_trade_count,
			partial_estimated_loss = EXCLUDED.partial_estimated_loss,
			partial_estimated_profit = EXCLUDED.partial_estimated_profit,
			partial_amount = EXCLUDED.partial_amount,
			circuit_breaker_tripped = EXCLUDED.circuit_breaker_tripped,
			circuit_breaker_reason = EXCLUDED.circuit_breaker_reason,
			circuit_breaker_at = EXCLUDED.circuit_breaker_at,
			is_executing = EXCLUDED.is_executing,
			current_trade_id = EXCLUDED.current_trade_id,
			last_trade_at = EXCLUDED.last_trade_at,
			daily_reset_at = EXCLUDED.daily_reset_at,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		state.DailyProfit, state.DailyLoss, state.TotalProfit, state.TotalLoss,
		state.TradeCount, state.WinCount, state.TotalAmountTraded,
		state.PartialTradeCount, state.PartialEstimatedLoss, state.PartialEstimatedProfit, state.PartialAmount,
		state.CircuitBreakerTripped, state.CircuitBreakerReason, state.CircuitBreakerAt,
		state.IsExecuting, state.CurrentTradeID, state.LastTradeAt, state.DailyResetAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trading state: %w", err)
	}
	return nil
}

// Load returns the saved state, or domain.ErrNotFound when the process has
// never persisted one.
func (s *StateStore) Load(ctx context.Context) (domain.LiveTradingState, error) {
	const query = `
		SELECT daily_profit, daily_loss, total_profit, total_loss,
		       trade_count, win_count, total_amount_traded,
		       partial_trade_count, partial_estimated_loss, partial_estimated_profit, partial_amount,
		       circuit_breaker_tripped, circuit_breaker_reason, circuit_breaker_at,
		       is_executing, current_trade_id, last_trade_at, daily_reset_at
		FROM live_trading_state WHERE id = TRUE`

	var state domain.LiveTradingState
	err := s.pool.QueryRow(ctx, query).Scan(
		&state.DailyProfit, &state.DailyLoss, &state.TotalProfit, &state.TotalLoss,
		&state.TradeCount, &state.WinCount, &state.TotalAmountTraded,
		&state.PartialTradeCount, &state.PartialEstimatedLoss, &state.PartialEstimatedProfit, &state.PartialAmount,
		&state.CircuitBreakerTripped, &state.CircuitBreakerReason, &state.CircuitBreakerAt,
		&state.IsExecuting, &state.CurrentTradeID, &state.LastTradeAt, &state.DailyResetAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiveTradingState{}, domain.ErrNotFound
		}
		return domain.LiveTradingState{}, fmt.Errorf("postgres: load trading state: %w", err)
	}
	return state, nil
}
