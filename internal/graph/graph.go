// Package graph maintains the in-memory directed graph of currencies and
// pair quotes that the detector searches. The market-data feed is the only
// writer; scan passes read immutable snapshots.
package graph

import (
	"sync"
	"time"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// Graph holds the current quote for every registered pair. Pairs that fall
// below the volume filter are excluded from snapshots but never deleted, so
// they reactivate without re-registration.
type Graph struct {
	mu    sync.RWMutex
	pairs map[string]domain.PairQuote // keyed by exchange symbol
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{pairs: make(map[string]domain.PairQuote)}
}

// Upsert replaces the stored quote for the pair if the update carries a
// strictly newer timestamp; stale and duplicate ticks are dropped. It returns
// true when the quote was applied.
func (g *Graph) Upsert(u domain.PairUpdate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.pairs[u.Symbol]
	if ok && !u.Timestamp.After(cur.UpdatedAt) {
		return false
	}

	q := domain.PairQuote{
		Symbol:    u.Symbol,
		Base:      u.Base,
		Quote:     u.Quote,
		Bid:       u.Bid,
		Ask:       u.Ask,
		BidVolume: u.BidVolume,
		AskVolume: u.AskVolume,
		Volume24h: u.Volume24h,
		UpdatedAt: u.Timestamp,
	}
	if ok {
		// Registration-time attributes survive ticker updates.
		q.MinOrderQuote = cur.MinOrderQuote
		q.MakerEligible = cur.MakerEligible
		if u.Volume24h == 0 {
			q.Volume24h = cur.Volume24h
		}
	}
	g.pairs[u.Symbol] = q
	return true
}

// Register seeds pair metadata discovered from exchange info (order minimums,
// maker eligibility, 24h volume) without touching live quote fields. Book
// ticker events carry no volume, so the discovery-time figure is what keeps
// the pair past the snapshot volume filter until the next stats refresh.
func (g *Graph) Register(symbol string, base, quote domain.Currency, minOrderQuote, volume24h float64, makerEligible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := g.pairs[symbol]
	q.Symbol = symbol
	q.Base = base
	q.Quote = quote
	q.MinOrderQuote = minOrderQuote
	q.Volume24h = volume24h
	q.MakerEligible = makerEligible
	g.pairs[symbol] = q
}

// SetVolume24h updates the rolling 24h quote volume for a registered pair.
// Unknown symbols are ignored. The feed calls this on its periodic stats
// refresh; quote fields are untouched so the update never races a scan.
func (g *Graph) SetVolume24h(symbol string, volume24h float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.pairs[symbol]
	if !ok {
		return
	}
	q.Volume24h = volume24h
	g.pairs[symbol] = q
}

// Pair returns the stored quote for a symbol.
func (g *Graph) Pair(symbol string) (domain.PairQuote, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q, ok := g.pairs[symbol]
	return q, ok
}

// Len returns the number of registered pairs, active or not.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pairs)
}

// DirectEdge returns the traversal converting from into to through a single
// market pair, if one is registered with a usable quote. The executor uses
// this to liquidate a stranded balance back into the start currency.
func (g *Graph) DirectEdge(from, to domain.Currency) (domain.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, q := range g.pairs {
		if q.Base == from && q.Quote == to && q.Bid > 0 {
			return domain.Edge{
				Symbol:        q.Symbol,
				From:          from,
				To:            to,
				Side:          domain.OrderSideSell,
				Price:         q.Bid,
				AvailableFrom: q.BidVolume,
				Volume24h:     q.Volume24h,
				MakerEligible: q.MakerEligible,
				UpdatedAt:     q.UpdatedAt,
			}, true
		}
		if q.Quote == from && q.Base == to && q.Ask > 0 {
			return domain.Edge{
				Symbol:        q.Symbol,
				From:          from,
				To:            to,
				Side:          domain.OrderSideBuy,
				Price:         q.Ask,
				AvailableFrom: q.AskVolume * q.Ask,
				Volume24h:     q.Volume24h,
				MakerEligible: q.MakerEligible,
				UpdatedAt:     q.UpdatedAt,
			}, true
		}
	}
	return domain.Edge{}, false
}

// SnapshotFilter controls which edges qualify for a scan pass.
type SnapshotFilter struct {
	MinVolume24h float64
	MaxOrderMin  float64       // exclude pairs whose minimum order exceeds this; 0 disables
	MaxQuoteAge  time.Duration // exclude quotes older than this; 0 disables
	Now          time.Time
}

// Snapshot is an immutable view of the active edges for one scan pass,
// indexed by source currency.
type Snapshot struct {
	Edges   map[domain.Currency][]domain.Edge
	TakenAt time.Time
}

// Snapshot copies all currently active edges under the read lock. The lock
// covers only the copy, never a whole scan, so market-data ingestion stays
// unblocked while the detector works on the returned value.
func (g *Graph) Snapshot(f SnapshotFilter) Snapshot {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Edges:   make(map[domain.Currency][]domain.Edge),
		TakenAt: now,
	}
	for _, q := range g.pairs {
		if !active(q, f, now) {
			continue
		}
		if q.Bid > 0 && q.BidVolume > 0 {
			// base -> quote: sell base at the bid. Touch liquidity is quoted
			// in base units, which is already the From basis.
			snap.Edges[q.Base] = append(snap.Edges[q.Base], domain.Edge{
				Symbol:        q.Symbol,
				From:          q.Base,
				To:            q.Quote,
				Side:          domain.OrderSideSell,
				Price:         q.Bid,
				AvailableFrom: q.BidVolume,
				Volume24h:     q.Volume24h,
				MakerEligible: q.MakerEligible,
				UpdatedAt:     q.UpdatedAt,
			})
		}
		if q.Ask > 0 && q.AskVolume > 0 {
			// quote -> base: buy base at the ask. Convert the base-unit touch
			// liquidity into quote units for the From basis.
			snap.Edges[q.Quote] = append(snap.Edges[q.Quote], domain.Edge{
				Symbol:        q.Symbol,
				From:          q.Quote,
				To:            q.Base,
				Side:          domain.OrderSideBuy,
				Price:         q.Ask,
				AvailableFrom: q.AskVolume * q.Ask,
				Volume24h:     q.Volume24h,
				MakerEligible: q.MakerEligible,
				UpdatedAt:     q.UpdatedAt,
			})
		}
	}
	return snap
}

func active(q domain.PairQuote, f SnapshotFilter, now time.Time) bool {
	if q.UpdatedAt.IsZero() {
		return false
	}
	if q.Volume24h < f.MinVolume24h {
		return false
	}
	if f.MaxOrderMin > 0 && q.MinOrderQuote > f.MaxOrderMin {
		return false
	}
	if f.MaxQuoteAge > 0 && now.Sub(q.UpdatedAt) > f.MaxQuoteAge {
		return false
	}
	return true
}
