// Package detector searches graph snapshots for profitable cycles. A scan
// pass works entirely on an immutable snapshot, so it never contends with
// market-data ingestion.
package detector

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arbwheel/arbwheel/internal/domain"
	"github.com/arbwheel/arbwheel/internal/graph"
)

// Detector enumerates simple cycles through a snapshot and prices them.
type Detector struct {
	logger *slog.Logger
}

// New creates a Detector.
func New(logger *slog.Logger) *Detector {
	return &Detector{logger: logger.With(slog.String("component", "detector"))}
}

// Scan returns every cycle whose net profit meets cfg.MinProfitPct, ordered
// by net profit descending with ties broken by fewer legs. Cycles start and
// end at each configured start currency, revisit no other currency, and have
// between 2 and cfg.MaxPathLegs legs.
func (d *Detector) Scan(snap graph.Snapshot, cfg domain.LiveTradingConfig) []domain.Opportunity {
	started := time.Now()

	var opps []domain.Opportunity
	for _, start := range cfg.StartCurrencies {
		w := walker{
			snap:    snap,
			cfg:     cfg,
			start:   start,
			visited: map[domain.Currency]bool{},
		}
		w.dfs(start, nil)
		opps = append(opps, w.found...)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].NetProfitPct != opps[j].NetProfitPct {
			return opps[i].NetProfitPct > opps[j].NetProfitPct
		}
		return len(opps[i].Legs) < len(opps[j].Legs)
	})

	d.logger.Debug("scan pass complete",
		slog.Int("opportunities", len(opps)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return opps
}

type walker struct {
	snap    graph.Snapshot
	cfg     domain.LiveTradingConfig
	start   domain.Currency
	visited map[domain.Currency]bool
	path    []domain.Edge
	found   []domain.Opportunity
}

func (w *walker) dfs(at domain.Currency, path []domain.Edge) {
	if len(path) >= w.cfg.MaxPathLegs {
		return
	}
	for _, e := range w.snap.Edges[at] {
		if e.Price <= 0 {
			// Missing or zero quote: skip the cycle through this edge, never
			// treat it as zero-cost.
			continue
		}
		if e.To == w.start {
			if len(path)+1 >= 2 {
				w.emit(append(path, e))
			}
			continue
		}
		if w.visited[e.To] {
			continue
		}
		w.visited[e.To] = true
		w.dfs(e.To, append(path, e))
		delete(w.visited, e.To)
	}
}

// emit prices a complete cycle and records it when the net profit clears the
// configured threshold.
func (w *walker) emit(legs []domain.Edge) {
	start := w.cfg.TradeAmount

	gross := start
	net := start
	minVol := 0.0
	opLegs := make([]domain.OpportunityLeg, 0, len(legs))

	// conv tracks how many start-currency units one unit of the current leg's
	// input currency represents, net of fees, so per-leg liquidity can be
	// compared on the common basis.
	conv := 1.0
	for _, e := range legs {
		fee := w.cfg.FeeRate(e.MakerEligible)

		availStart := e.AvailableFrom / conv
		if minVol == 0 || availStart < minVol {
			minVol = availStart
		}

		gross = e.Convert(gross)
		net = e.Convert(net) * (1 - fee)
		conv = net / start

		opLegs = append(opLegs, domain.OpportunityLeg{
			Symbol:        e.Symbol,
			From:          e.From,
			To:            e.To,
			Side:          e.Side,
			Price:         e.Price,
			FeeRate:       fee,
			AvailableFrom: e.AvailableFrom,
		})
	}

	grossPct := (gross - start) / start * 100
	netPct := (net - start) / start * 100
	if netPct < w.cfg.MinProfitPct {
		return
	}

	w.found = append(w.found, domain.Opportunity{
		ID:                 uuid.New().String(),
		StartCurrency:      w.start,
		Legs:               opLegs,
		AmountIn:           start,
		AmountOut:          net,
		GrossProfitPct:     grossPct,
		TotalFeesPct:       grossPct - netPct,
		NetProfitPct:       netPct,
		MinVolumeAvailable: minVol,
		Executable:         minVol >= start,
		DetectedAt:         w.snap.TakenAt,
	})
}
