// Package feed streams Binance book tickers into the instrument graph and
// discovers the tradable pair universe from exchange info.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/arbwheel/arbwheel/internal/domain"
	"github.com/arbwheel/arbwheel/internal/graph"
)

// streamsPerConn caps how many symbols share one combined websocket
// connection. Binance allows 1024 streams per connection; staying well under
// keeps single-connection loss from blinding most of the graph.
const streamsPerConn = 200

// statsRefreshInterval paces the 24h volume re-poll. Book ticker events carry
// no volume, so without this the graph would keep the discovery-time figures
// for the whole process lifetime.
const statsRefreshInterval = 30 * time.Minute

// Kicker requests an immediate scan pass. The engine implements it.
type Kicker interface {
	Kick()
}

// QuoteWriter receives a write-behind copy of every applied quote. The Redis
// quote cache implements it.
type QuoteWriter interface {
	Set(ctx context.Context, quote domain.PairQuote) error
}

// QuoteReader supplies previously cached quotes for warm starting the graph
// after discovery. The Redis quote cache implements it.
type QuoteReader interface {
	All(ctx context.Context) ([]domain.PairQuote, error)
}

// Options bound the discovered pair universe.
type Options struct {
	MaxPairs         int
	MinPairVolume24h float64
	MaxOrderMin      float64
	// KickThresholdPct triggers an immediate scan when a best bid or ask
	// moves by more than this percentage. Zero disables kicks.
	KickThresholdPct float64
}

// Feed owns the market-data side of the system: it is the only writer into
// the instrument graph.
type Feed struct {
	client *binance.Client
	graph  *graph.Graph
	quotes QuoteWriter
	kicker Kicker
	opts   Options
	logger *slog.Logger

	warm QuoteReader

	mu      sync.Mutex
	pairs   map[string]pairMeta // symbol -> registration metadata
	lastBid map[string]float64
}

type pairMeta struct {
	base  domain.Currency
	quote domain.Currency
}

// New creates a Feed. quotes and kicker may be nil.
func New(client *binance.Client, g *graph.Graph, quotes QuoteWriter, kicker Kicker, opts Options, logger *slog.Logger) *Feed {
	return &Feed{
		client:  client,
		graph:   g,
		quotes:  quotes,
		kicker:  kicker,
		opts:    opts,
		logger:  logger.With(slog.String("component", "feed")),
		pairs:   make(map[string]pairMeta),
		lastBid: make(map[string]float64),
	}
}

// SetWarmSource installs a cache to replay quotes from after discovery.
// Must be called before Run.
func (f *Feed) SetWarmSource(r QuoteReader) {
	f.warm = r
}

// DiscoverPairs pulls exchange info and 24h stats, filters the symbol list
// down to liquid spot pairs within the configured order-minimum bound, and
// registers each survivor in the graph. It returns the selected symbols.
func (f *Feed) DiscoverPairs(ctx context.Context) ([]string, error) {
	info, err := f.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: exchange info: %w", err)
	}

	stats, err := f.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: 24h stats: %w", err)
	}
	quoteVolume := make(map[string]float64, len(stats))
	for _, st := range stats {
		v, err := strconv.ParseFloat(st.QuoteVolume, 64)
		if err != nil {
			continue
		}
		quoteVolume[st.Symbol] = v
	}

	type candidate struct {
		symbol   string
		base     domain.Currency
		quote    domain.Currency
		minOrder float64
		volume   float64
		maker    bool
	}

	var candidates []candidate
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !s.IsSpotTradingAllowed {
			continue
		}
		vol := quoteVolume[s.Symbol]
		if vol < f.opts.MinPairVolume24h {
			continue
		}

		minOrder := 0.0
		if flt := s.NotionalFilter(); flt != nil {
			minOrder, _ = strconv.ParseFloat(flt.MinNotional, 64)
		}
		if f.opts.MaxOrderMin > 0 && minOrder > f.opts.MaxOrderMin {
			continue
		}

		candidates = append(candidates, candidate{
			symbol:   s.Symbol,
			base:     domain.Currency(s.BaseAsset),
			quote:    domain.Currency(s.QuoteAsset),
			minOrder: minOrder,
			volume:   vol,
			maker:    acceptsMakerOrders(s.OrderTypes),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume > candidates[j].volume
	})
	if f.opts.MaxPairs > 0 && len(candidates) > f.opts.MaxPairs {
		candidates = candidates[:f.opts.MaxPairs]
	}

	symbols := make([]string, 0, len(candidates))
	f.mu.Lock()
	for _, c := range candidates {
		f.graph.Register(c.symbol, c.base, c.quote, c.minOrder, c.volume, c.maker)
		f.pairs[c.symbol] = pairMeta{base: c.base, quote: c.quote}
		symbols = append(symbols, c.symbol)
	}
	f.mu.Unlock()

	f.logger.InfoContext(ctx, "pair universe selected",
		slog.Int("exchange_symbols", len(info.Symbols)),
		slog.Int("selected", len(symbols)),
	)
	return symbols, nil
}

// acceptsMakerOrders reports whether a symbol's exchange info allows
// post-only orders, which is what maker fee rates require.
func acceptsMakerOrders(orderTypes []string) bool {
	for _, ot := range orderTypes {
		if ot == "LIMIT_MAKER" {
			return true
		}
	}
	return false
}

// refreshStats re-polls 24h quote volumes for the discovered pairs so the
// snapshot volume filter tracks the market instead of the boot-time figures.
// Poll failures are logged and retried on the next tick; the stored volumes
// simply age until one succeeds.
func (f *Feed) refreshStats(ctx context.Context) error {
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		stats, err := f.client.NewListPriceChangeStatsService().Do(ctx)
		if err != nil {
			f.logger.WarnContext(ctx, "24h stats refresh failed",
				slog.String("error", err.Error()),
			)
			continue
		}

		updated := 0
		for _, st := range stats {
			f.mu.Lock()
			_, known := f.pairs[st.Symbol]
			f.mu.Unlock()
			if !known {
				continue
			}
			vol, err := strconv.ParseFloat(st.QuoteVolume, 64)
			if err != nil {
				continue
			}
			f.graph.SetVolume24h(st.Symbol, vol)
			updated++
		}
		f.logger.InfoContext(ctx, "24h volumes refreshed", slog.Int("pairs", updated))
	}
}

// Run discovers the pair universe, then streams book tickers until the
// context is cancelled. Connections reconnect independently with jittered
// backoff.
func (f *Feed) Run(ctx context.Context) error {
	symbols, err := f.DiscoverPairs(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		f.logger.Warn("no pairs passed the discovery filters")
		return nil
	}

	if f.warm != nil {
		cached, err := f.warm.All(ctx)
		if err != nil {
			f.logger.WarnContext(ctx, "quote cache warm start failed",
				slog.String("error", err.Error()),
			)
		} else {
			f.WarmStart(ctx, cached)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return f.refreshStats(ctx)
	})
	for start := 0; start < len(symbols); start += streamsPerConn {
		end := start + streamsPerConn
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		eg.Go(func() error {
			return f.streamLoop(ctx, chunk)
		})
	}
	return eg.Wait()
}

func (f *Feed) streamLoop(ctx context.Context, symbols []string) error {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := f.serveOnce(ctx, symbols)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)

		wait := retry.Duration()
		f.logger.WarnContext(ctx, "book ticker stream dropped, reconnecting",
			slog.Int("symbols", len(symbols)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// serveOnce runs a single combined book-ticker connection until it drops or
// the context is cancelled.
func (f *Feed) serveOnce(ctx context.Context, symbols []string) error {
	errC := make(chan error, 1)

	doneC, stopC, err := binance.WsCombinedBookTickerServe(symbols,
		func(event *binance.WsBookTickerEvent) {
			f.handleTick(ctx, event)
		},
		func(err error) {
			select {
			case errC <- err:
			default:
			}
		},
	)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errC:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return fmt.Errorf("stream closed by remote")
	}
}

func (f *Feed) handleTick(ctx context.Context, event *binance.WsBookTickerEvent) {
	bid, err1 := strconv.ParseFloat(event.BestBidPrice, 64)
	ask, err2 := strconv.ParseFloat(event.BestAskPrice, 64)
	bidQty, err3 := strconv.ParseFloat(event.BestBidQty, 64)
	askQty, err4 := strconv.ParseFloat(event.BestAskQty, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		f.logger.Debug("unparsable book ticker", slog.String("symbol", event.Symbol))
		return
	}

	f.mu.Lock()
	meta, known := f.pairs[event.Symbol]
	prevBid := f.lastBid[event.Symbol]
	f.lastBid[event.Symbol] = bid
	f.mu.Unlock()
	if !known {
		return
	}

	applied := f.graph.Upsert(domain.PairUpdate{
		Symbol:    event.Symbol,
		Base:      meta.base,
		Quote:     meta.quote,
		Bid:       bid,
		Ask:       ask,
		BidVolume: bidQty,
		AskVolume: askQty,
		Timestamp: time.Now().UTC(),
	})
	if !applied {
		return
	}

	if f.quotes != nil {
		if quote, ok := f.graph.Pair(event.Symbol); ok {
			if err := f.quotes.Set(ctx, quote); err != nil {
				f.logger.Debug("quote cache write failed",
					slog.String("symbol", event.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	f.maybeKick(prevBid, bid)
}

// maybeKick schedules an immediate scan when a price jumped enough to change
// the opportunity picture between ticks.
func (f *Feed) maybeKick(prevBid, bid float64) {
	if f.kicker == nil || f.opts.KickThresholdPct <= 0 || prevBid <= 0 {
		return
	}
	movePct := (bid - prevBid) / prevBid * 100
	if movePct < 0 {
		movePct = -movePct
	}
	if movePct >= f.opts.KickThresholdPct {
		f.kicker.Kick()
	}
}

// WarmStart replays cached quotes into the graph so scanning is useful
// before the live stream has covered every pair. Symbols that were not
// re-discovered this boot are skipped.
func (f *Feed) WarmStart(ctx context.Context, quotes []domain.PairQuote) int {
	applied := 0
	for _, q := range quotes {
		f.mu.Lock()
		_, known := f.pairs[q.Symbol]
		f.mu.Unlock()
		if !known {
			continue
		}
		if f.graph.Upsert(domain.PairUpdate{
			Symbol:    q.Symbol,
			Base:      q.Base,
			Quote:     q.Quote,
			Bid:       q.Bid,
			Ask:       q.Ask,
			BidVolume: q.BidVolume,
			AskVolume: q.AskVolume,
			Volume24h: q.Volume24h,
			Timestamp: q.UpdatedAt,
		}) {
			applied++
		}
	}
	f.logger.InfoContext(ctx, "graph warmed from quote cache", slog.Int("applied", applied))
	return applied
}
