package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore. Legs are stored as
// JSONB; opportunity history is read-mostly and never joined against.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records one detected opportunity. Duplicate IDs are skipped.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	legsJSON, err := json.Marshal(opp.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity legs: %w", err)
	}

	const query = `
		INSERT INTO opportunities (
			id, start_currency, path, legs,
			amount_in, amount_out, gross_profit_pct, total_fees_pct, net_profit_pct,
			min_volume_available, executable, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, string(opp.StartCurrency), opp.Path(), legsJSON,
		opp.AmountIn, opp.AmountOut, opp.GrossProfitPct, opp.TotalFeesPct, opp.NetProfitPct,
		opp.MinVolumeAvailable, opp.Executable, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, start_currency, legs,
		       amount_in, amount_out, gross_profit_pct, total_fees_pct, net_profit_pct,
		       min_volume_available, executable, detected_at
		FROM opportunities ORDER BY detected_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		var (
			opp      domain.Opportunity
			start    string
			legsJSON []byte
		)
		if err := rows.Scan(
			&opp.ID, &start, &legsJSON,
			&opp.AmountIn, &opp.AmountOut, &opp.GrossProfitPct, &opp.TotalFeesPct, &opp.NetProfitPct,
			&opp.MinVolumeAvailable, &opp.Executable, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.StartCurrency = domain.Currency(start)
		if err := json.Unmarshal(legsJSON, &opp.Legs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal opportunity legs: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}
