// Package engine runs the scan/execute cycle: it snapshots the instrument
// graph, hands the snapshot to the detector, and routes the best executable
// opportunity through the risk gate to the executor. It also owns the
// operator-mutable live trading configuration.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbwheel/arbwheel/internal/detector"
	"github.com/arbwheel/arbwheel/internal/domain"
	"github.com/arbwheel/arbwheel/internal/executor"
	"github.com/arbwheel/arbwheel/internal/graph"
	"github.com/arbwheel/arbwheel/internal/risk"
)

// publishedOpps caps how many opportunities from one scan pass go to the bus
// and the history store.
const publishedOpps = 20

// Engine is the single consumer of graph snapshots. Market-data ingestion is
// the producer; the two touch only through the graph's upsert/snapshot
// contract.
type Engine struct {
	graph    *graph.Graph
	detector *detector.Detector
	risk     *risk.Manager
	executor *executor.Executor
	opps     domain.OpportunityStore
	bus      domain.SignalBus
	alerter  executor.Alerter
	logger   *slog.Logger

	cfgMu sync.RWMutex
	cfg   domain.LiveTradingConfig

	kick chan struct{}
}

// New creates an Engine. opps, bus and alerter may be nil.
func New(
	g *graph.Graph,
	det *detector.Detector,
	riskMgr *risk.Manager,
	exec *executor.Executor,
	opps domain.OpportunityStore,
	bus domain.SignalBus,
	alerter executor.Alerter,
	cfg domain.LiveTradingConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		graph:    g,
		detector: det,
		risk:     riskMgr,
		executor: exec,
		opps:     opps,
		bus:      bus,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
		kick:     make(chan struct{}, 1),
	}
}

// Run drives scan passes on the configured interval until the context is
// cancelled. A Kick between ticks schedules an immediate pass.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started",
		slog.Duration("scan_interval", e.Config().ScanInterval),
	)
	defer e.logger.Info("engine stopped")

	for {
		interval := e.Config().ScanInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-e.kick:
			timer.Stop()
		}

		e.risk.MaybeRollover(ctx)
		e.scanAndExecute(ctx)
	}
}

// Kick requests an immediate scan pass. Safe to call from any goroutine;
// redundant kicks collapse into one.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// ScanNow runs one detector pass and returns the results without executing
// anything. Used by the API layer.
func (e *Engine) ScanNow(ctx context.Context) []domain.Opportunity {
	cfg := e.Config()
	opps := e.detector.Scan(e.snapshot(cfg), cfg)
	e.publishOpportunities(ctx, opps)
	return opps
}

// Config returns a copy of the current live trading configuration.
func (e *Engine) Config() domain.LiveTradingConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// UpdateConfig applies a partial configuration update. The patched
// configuration must validate; otherwise nothing changes.
func (e *Engine) UpdateConfig(ctx context.Context, patch domain.ConfigPatch) (domain.LiveTradingConfig, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	next := patch.Apply(e.cfg, time.Now().UTC())
	if err := next.Validate(); err != nil {
		return e.cfg, fmt.Errorf("engine: config update rejected: %w", err)
	}
	e.cfg = next

	e.logger.InfoContext(ctx, "configuration updated",
		slog.Bool("enabled", next.Enabled),
		slog.Float64("trade_amount", next.TradeAmount),
		slog.Float64("min_profit_pct", next.MinProfitPct),
	)
	e.publishConfig(ctx, next)
	return next, nil
}

// Start enables live execution.
func (e *Engine) Start(ctx context.Context) (domain.LiveTradingConfig, error) {
	enabled := true
	return e.UpdateConfig(ctx, domain.ConfigPatch{Enabled: &enabled})
}

// Stop disables live execution. Scanning continues so the dashboard feed
// stays alive.
func (e *Engine) Stop(ctx context.Context) (domain.LiveTradingConfig, error) {
	enabled := false
	return e.UpdateConfig(ctx, domain.ConfigPatch{Enabled: &enabled})
}

// State returns a copy of the current risk/session state.
func (e *Engine) State() domain.LiveTradingState {
	return e.risk.State()
}

// ClearBreaker re-enables approvals after a circuit-breaker trip.
func (e *Engine) ClearBreaker(ctx context.Context) {
	e.risk.ClearBreaker(ctx)
}

func (e *Engine) snapshot(cfg domain.LiveTradingConfig) graph.Snapshot {
	return e.graph.Snapshot(graph.SnapshotFilter{
		MinVolume24h: cfg.MinPairVolume24h,
		MaxOrderMin:  cfg.MaxOrderMin,
		MaxQuoteAge:  cfg.MaxQuoteAge,
	})
}

// scanAndExecute is one pass of the consumer cycle. At most one opportunity
// is executed per pass; anything else found in the meantime is dropped, not
// queued.
func (e *Engine) scanAndExecute(ctx context.Context) {
	cfg := e.Config()
	opps := e.detector.Scan(e.snapshot(cfg), cfg)
	if len(opps) == 0 {
		return
	}
	e.publishOpportunities(ctx, opps)

	if !cfg.Enabled || e.executor == nil {
		return
	}

	for _, opp := range opps {
		if !opp.Executable {
			continue
		}
		if err := e.risk.Approve(ctx, opp, cfg); err != nil {
			e.logger.DebugContext(ctx, "opportunity not approved",
				slog.String("opp_id", opp.ID),
				slog.String("reason", err.Error()),
			)
			// The gate refuses everything after the first refusal worth
			// acting on; no point probing the rest of the list.
			return
		}

		tripped := e.State().CircuitBreakerTripped
		e.executor.Execute(ctx, opp, cfg)
		if st := e.State(); st.CircuitBreakerTripped && !tripped {
			e.alertBreaker(ctx, st)
		}
		return
	}
}

func (e *Engine) alertBreaker(ctx context.Context, st domain.LiveTradingState) {
	if e.alerter == nil {
		return
	}
	msg := fmt.Sprintf("Live trading halted: %s. Clearing the breaker requires operator action.", st.CircuitBreakerReason)
	if err := e.alerter.Notify(ctx, "circuit_breaker", "Circuit breaker tripped", msg); err != nil {
		e.logger.WarnContext(ctx, "breaker alert failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) publishOpportunities(ctx context.Context, opps []domain.Opportunity) {
	top := opps
	if len(top) > publishedOpps {
		top = top[:publishedOpps]
	}
	for _, opp := range top {
		if e.opps != nil {
			if err := e.opps.Insert(ctx, opp); err != nil {
				e.logger.WarnContext(ctx, "opportunity insert failed",
					slog.String("opp_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":         "opportunities",
		"count":         len(opps),
		"opportunities": top,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "opportunities", payload); err != nil {
		e.logger.WarnContext(ctx, "opportunity publish failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) publishConfig(ctx context.Context, cfg domain.LiveTradingConfig) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":  "config_updated",
		"config": cfg,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "config", payload); err != nil {
		e.logger.WarnContext(ctx, "config publish failed", slog.String("error", err.Error()))
	}
}
