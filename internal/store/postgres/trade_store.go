package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Leg fills live
// in a child table keyed by (trade_id, leg_index).
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, opportunity_id, path, pairs, leg_count,
	amount_in, amount_out, expected_profit_pct, profit_loss, profit_pct,
	status, current_leg, error_reason,
	held_currency, held_amount, resolved_at, resolution_value, resolution_trade_id,
	started_at, completed_at`

func currenciesToText(path []domain.Currency) []string {
	out := make([]string, len(path))
	for i, c := range path {
		out[i] = string(c)
	}
	return out
}

func textToCurrencies(path []string) []domain.Currency {
	out := make([]domain.Currency, len(path))
	for i, c := range path {
		out[i] = domain.Currency(c)
	}
	return out
}

func scanTrade(row pgx.Row) (domain.LiveTrade, error) {
	var (
		t        domain.LiveTrade
		path     []string
		held     *string
		resolved *string
	)
	err := row.Scan(
		&t.ID, &t.OpportunityID, &path, &t.Pairs, &t.LegCount,
		&t.AmountIn, &t.AmountOut, &t.ExpectedProfitPct, &t.ProfitLoss, &t.ProfitPct,
		&t.Status, &t.CurrentLeg, &t.ErrorReason,
		&held, &t.HeldAmount, &t.ResolvedAt, &t.ResolutionValue, &resolved,
		&t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return domain.LiveTrade{}, err
	}
	t.Path = textToCurrencies(path)
	if held != nil {
		c := domain.Currency(*held)
		t.HeldCurrency = &c
	}
	t.ResolutionTradeID = resolved
	return t, nil
}

func (s *TradeStore) insertLegs(ctx context.Context, tx pgx.Tx, tradeID string, legs []domain.LegFill) error {
	const query = `
		INSERT INTO live_trade_legs (
			trade_id, leg_index, symbol, side,
			amount_in, amount_out, fill_price, duration_ms, success, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	batch := &pgx.Batch{}
	for _, leg := range legs {
		batch.Queue(query,
			tradeID, leg.Index, leg.Symbol, string(leg.Side),
			leg.AmountIn, leg.AmountOut, leg.FillPrice,
			leg.DurationMs, leg.Success, leg.Error,
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := range legs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert leg %d: %w", i, err)
		}
	}
	return nil
}

// Create inserts a new trade row along with its leg fills.
func (s *TradeStore) Create(ctx context.Context, trade domain.LiveTrade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create trade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO live_trades (
			id, opportunity_id, path, pairs, leg_count,
			amount_in, amount_out, expected_profit_pct, profit_loss, profit_pct,
			status, current_leg, error_reason,
			held_currency, held_amount, resolved_at, resolution_value, resolution_trade_id,
			started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`

	var held *string
	if trade.HeldCurrency != nil {
		v := string(*trade.HeldCurrency)
		held = &v
	}

	if _, err := tx.Exec(ctx, query,
		trade.ID, trade.OpportunityID, currenciesToText(trade.Path), trade.Pairs, trade.LegCount,
		trade.AmountIn, trade.AmountOut, trade.ExpectedProfitPct, trade.ProfitLoss, trade.ProfitPct,
		string(trade.Status), trade.CurrentLeg, trade.ErrorReason,
		held, trade.HeldAmount, trade.ResolvedAt, trade.ResolutionValue, trade.ResolutionTradeID,
		trade.StartedAt, trade.CompletedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}

	if len(trade.Legs) > 0 {
		if err := s.insertLegs(ctx, tx, trade.ID, trade.Legs); err != nil {
			return fmt.Errorf("postgres: trade %s: %w", trade.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create trade %s: %w", trade.ID, err)
	}
	return nil
}

// Update rewrites the trade row and replaces its leg fills.
func (s *TradeStore) Update(ctx context.Context, trade domain.LiveTrade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update trade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE live_trades SET
			amount_out = $2, profit_loss = $3, profit_pct = $4,
			status = $5, current_leg = $6, error_reason = $7,
			held_currency = $8, held_amount = $9,
			resolved_at = $10, resolution_value = $11, resolution_trade_id = $12,
			completed_at = $13
		WHERE id = $1`

	var held *string
	if trade.HeldCurrency != nil {
		v := string(*trade.HeldCurrency)
		held = &v
	}

	tag, err := tx.Exec(ctx, query,
		trade.ID,
		trade.AmountOut, trade.ProfitLoss, trade.ProfitPct,
		string(trade.Status), trade.CurrentLeg, trade.ErrorReason,
		held, trade.HeldAmount,
		trade.ResolvedAt, trade.ResolutionValue, trade.ResolutionTradeID,
		trade.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", trade.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM live_trade_legs WHERE trade_id = $1`, trade.ID); err != nil {
		return fmt.Errorf("postgres: clear legs for trade %s: %w", trade.ID, err)
	}
	if len(trade.Legs) > 0 {
		if err := s.insertLegs(ctx, tx, trade.ID, trade.Legs); err != nil {
			return fmt.Errorf("postgres: trade %s: %w", trade.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetByID returns one trade with its legs, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.LiveTrade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM live_trades WHERE id = $1`, id)

	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiveTrade{}, domain.ErrNotFound
		}
		return domain.LiveTrade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}

	legs, err := s.loadLegs(ctx, []string{id})
	if err != nil {
		return domain.LiveTrade{}, fmt.Errorf("postgres: load legs for trade %s: %w", id, err)
	}
	trade.Legs = legs[id]
	return trade, nil
}

// ListRecent returns the most recently started trades, legs included.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.LiveTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM live_trades ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return s.collectTrades(ctx, rows)
}

// ListUnhealthy returns trades stranded in partial_failure.
func (s *TradeStore) ListUnhealthy(ctx context.Context) ([]domain.LiveTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM live_trades WHERE status = $1 ORDER BY started_at DESC`,
		string(domain.TradeStatusPartialFailure))
	if err != nil {
		return nil, fmt.Errorf("postgres: list unhealthy trades: %w", err)
	}
	defer rows.Close()
	return s.collectTrades(ctx, rows)
}

// ListFinalizedBetween returns terminal trades whose completion falls in
// [since, until). Used by the archiver.
func (s *TradeStore) ListFinalizedBetween(ctx context.Context, since, until time.Time) ([]domain.LiveTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM live_trades
		 WHERE status = ANY($1) AND completed_at >= $2 AND completed_at < $3
		 ORDER BY completed_at ASC`,
		[]string{
			string(domain.TradeStatusCompleted),
			string(domain.TradeStatusResolved),
			string(domain.TradeStatusAborted),
		},
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized trades: %w", err)
	}
	defer rows.Close()
	return s.collectTrades(ctx, rows)
}

func (s *TradeStore) collectTrades(ctx context.Context, rows pgx.Rows) ([]domain.LiveTrade, error) {
	var (
		trades []domain.LiveTrade
		ids    []string
	)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade row: %w", err)
		}
		trades = append(trades, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	if len(trades) == 0 {
		return trades, nil
	}

	legs, err := s.loadLegs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: load trade legs: %w", err)
	}
	for i := range trades {
		trades[i].Legs = legs[trades[i].ID]
	}
	return trades, nil
}

func (s *TradeStore) loadLegs(ctx context.Context, tradeIDs []string) (map[string][]domain.LegFill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trade_id, leg_index, symbol, side,
		        amount_in, amount_out, fill_price, duration_ms, success, error
		 FROM live_trade_legs WHERE trade_id = ANY($1)
		 ORDER BY trade_id, leg_index`, tradeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.LegFill, len(tradeIDs))
	for rows.Next() {
		var (
			tradeID string
			leg     domain.LegFill
			side    string
		)
		if err := rows.Scan(
			&tradeID, &leg.Index, &leg.Symbol, &side,
			&leg.AmountIn, &leg.AmountOut, &leg.FillPrice,
			&leg.DurationMs, &leg.Success, &leg.Error,
		); err != nil {
			return nil, err
		}
		leg.Side = domain.OrderSide(side)
		out[tradeID] = append(out[tradeID], leg)
	}
	return out, rows.Err()
}
