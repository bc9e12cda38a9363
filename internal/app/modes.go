package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbwheel/arbwheel/internal/blob"
	"github.com/arbwheel/arbwheel/internal/detector"
	"github.com/arbwheel/arbwheel/internal/engine"
	"github.com/arbwheel/arbwheel/internal/exchange"
	"github.com/arbwheel/arbwheel/internal/executor"
	"github.com/arbwheel/arbwheel/internal/feed"
	"github.com/arbwheel/arbwheel/internal/graph"
	"github.com/arbwheel/arbwheel/internal/risk"
	"github.com/arbwheel/arbwheel/internal/server"
	"github.com/arbwheel/arbwheel/internal/server/handler"
	"github.com/arbwheel/arbwheel/internal/server/ws"
)

// core bundles the trading pipeline objects shared by every mode.
type core struct {
	graph  *graph.Graph
	risk   *risk.Manager
	engine *engine.Engine
	feed   *feed.Feed
}

// buildCore assembles the graph, detector, risk manager, executor, engine and
// feed. When withOrders is false the executor has no order submitter and the
// engine starts with trading disabled regardless of configuration.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, withOrders bool) (*core, error) {
	logger := slog.Default()

	g := graph.New()
	det := detector.New(logger)

	riskMgr := risk.NewManager(deps.StateStore, deps.SignalBus, deps.AuditStore, logger)
	if deps.StateStore != nil {
		if err := riskMgr.Restore(ctx); err != nil {
			return nil, fmt.Errorf("app: restore trading state: %w", err)
		}
	}

	binanceClient := exchange.NewClient(exchange.ClientConfig{
		ApiKey:     a.cfg.Binance.ApiKey,
		ApiSecret:  a.cfg.Binance.ApiSecret,
		UseTestnet: a.cfg.Binance.UseTestnet,
	})

	var orders executor.OrderSubmitter
	if withOrders {
		orders = exchange.New(binanceClient, logger)
	}

	exec := executor.New(orders, g, riskMgr, deps.TradeStore, deps.SignalBus, deps.Notifier, logger)

	engineCfg := a.cfg.Trading.LiveTrading()
	if !withOrders {
		engineCfg.Enabled = false
	}
	eng := engine.New(g, det, riskMgr, exec, deps.OpportunityStore, deps.SignalBus, deps.Notifier, engineCfg, logger)

	f := feed.New(binanceClient, g, deps.QuoteCache, eng, feed.Options{
		MaxPairs:         a.cfg.Trading.MaxPairs,
		MinPairVolume24h: a.cfg.Trading.MinPairVolume24h,
		MaxOrderMin:      a.cfg.Trading.MaxOrderMin,
		KickThresholdPct: a.cfg.Trading.KickThresholdPct,
	}, logger)
	f.SetWarmSource(deps.QuoteCache)

	return &core{graph: g, risk: riskMgr, engine: eng, feed: f}, nil
}

// LiveMode runs the feed, the trading engine and the HTTP server.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	c, err := a.buildCore(ctx, deps, true)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	a.reportUnhealthyTrades(ctx, deps)

	g.Go(func() error { return c.feed.Run(ctx) })
	g.Go(func() error { return c.engine.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// ScanMode runs the feed and a detect-only engine with the HTTP server.
// Opportunities are published but never executed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	c, err := a.buildCore(ctx, deps, false)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.feed.Run(ctx) })
	g.Go(func() error { return c.engine.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// ServerMode runs only the HTTP API over the stores. No market data flows
// and no orders are placed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(ctx, deps, false)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps, c)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs every subsystem: feed, trading engine, HTTP server and the
// trade archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps, true)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	a.reportUnhealthyTrades(ctx, deps)

	g.Go(func() error { return c.feed.Run(ctx) })
	g.Go(func() error { return c.engine.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully on context cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	logger := slog.Default()
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.cfg.Mode, startedAt, c.graph, logger),
		Opportunities: handler.NewOpportunityHandler(c.engine, deps.OpportunityStore, logger),
		Trades:        handler.NewTradeHandler(deps.TradeStore, logger),
		Trading:       handler.NewTradingHandler(c.engine, deps.AuditStore, logger),
		Audit:         handler.NewAuditHandler(deps.AuditStore, logger),
		Events:        handler.NewEventsHandler(deps.SignalBus, logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, logger)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver adds the daily trade archiver when both object storage and
// the trade store are wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.BlobWriter == nil || deps.TradeStore == nil {
		return
	}
	arch := blob.NewArchiver(deps.TradeStore, deps.BlobWriter, a.cfg.S3.Prefix, slog.Default())
	g.Go(func() error {
		if err := arch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// reportUnhealthyTrades surfaces trades stranded in partial_failure from a
// previous run. They need operator attention before trading resumes.
func (a *App) reportUnhealthyTrades(ctx context.Context, deps *Dependencies) {
	if deps.TradeStore == nil {
		return
	}
	trades, err := deps.TradeStore.ListUnhealthy(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "unhealthy trade check failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(trades) == 0 {
		return
	}
	for _, t := range trades {
		a.logger.WarnContext(ctx, "trade stranded in partial failure",
			slog.String("trade_id", t.ID),
			slog.Int("legs_filled", len(t.Legs)),
		)
	}
	if deps.Notifier != nil {
		_ = deps.Notifier.Notify(ctx, "partial_failure",
			"Stranded trades found at startup",
			fmt.Sprintf("%d trade(s) are stuck in partial_failure and need manual resolution.", len(trades)),
		)
	}
}
