package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
)

func btcUpdate(ts time.Time, bid, ask float64) domain.PairUpdate {
	return domain.PairUpdate{
		Symbol:    "BTCUSDT",
		Base:      "BTC",
		Quote:     "USDT",
		Bid:       bid,
		Ask:       ask,
		BidVolume: 2,
		AskVolume: 3,
		Volume24h: 1_000_000,
		Timestamp: ts,
	}
}

func TestUpsertMonotonicTimestamp(t *testing.T) {
	g := New()
	t0 := time.Now().UTC()

	assert.True(t, g.Upsert(btcUpdate(t0, 50_000, 50_010)))

	// Older tick must not overwrite.
	assert.False(t, g.Upsert(btcUpdate(t0.Add(-time.Second), 1, 2)))
	q, ok := g.Pair("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 50_000.0, q.Bid)

	// Equal timestamp is also stale.
	assert.False(t, g.Upsert(btcUpdate(t0, 1, 2)))

	// Newer tick wins.
	assert.True(t, g.Upsert(btcUpdate(t0.Add(time.Second), 50_100, 50_110)))
	q, _ = g.Pair("BTCUSDT")
	assert.Equal(t, 50_100.0, q.Bid)
}

func TestRegisterSurvivesTicks(t *testing.T) {
	g := New()
	g.Register("BTCUSDT", "BTC", "USDT", 10, 2_000_000, true)
	g.Upsert(btcUpdate(time.Now().UTC(), 50_000, 50_010))

	q, ok := g.Pair("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 10.0, q.MinOrderQuote)
	assert.True(t, q.MakerEligible)
}

func TestRegisteredVolumeSurvivesZeroVolumeTicks(t *testing.T) {
	g := New()
	now := time.Now().UTC()
	g.Register("BTCUSDT", "BTC", "USDT", 10, 2_000_000, false)

	// Book ticker updates carry no 24h volume.
	g.Upsert(domain.PairUpdate{
		Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
		Bid: 50_000, Ask: 50_010, BidVolume: 2, AskVolume: 3,
		Timestamp: now,
	})

	q, ok := g.Pair("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2_000_000.0, q.Volume24h)

	snap := g.Snapshot(SnapshotFilter{MinVolume24h: 1_000_000, Now: now})
	assert.NotEmpty(t, snap.Edges["BTC"], "registered volume must keep the pair active")
}

func TestSetVolume24h(t *testing.T) {
	g := New()
	now := time.Now().UTC()
	g.Register("BTCUSDT", "BTC", "USDT", 10, 2_000_000, false)
	g.Upsert(btcUpdate(now, 50_000, 50_010))

	g.SetVolume24h("BTCUSDT", 500)
	g.SetVolume24h("ETHUSDT", 9_999_999) // unknown symbol, ignored

	q, _ := g.Pair("BTCUSDT")
	assert.Equal(t, 500.0, q.Volume24h)
	assert.Equal(t, 50_000.0, q.Bid, "quote fields untouched by a volume refresh")
	_, ok := g.Pair("ETHUSDT")
	assert.False(t, ok)

	snap := g.Snapshot(SnapshotFilter{MinVolume24h: 1_000_000, Now: now})
	assert.Empty(t, snap.Edges["BTC"], "refreshed volume below the filter deactivates the pair")
}

func TestSnapshotDirectedEdges(t *testing.T) {
	g := New()
	now := time.Now().UTC()
	g.Upsert(btcUpdate(now, 50_000, 50_010))

	snap := g.Snapshot(SnapshotFilter{Now: now})

	require.Len(t, snap.Edges["BTC"], 1)
	sell := snap.Edges["BTC"][0]
	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.Equal(t, 50_000.0, sell.Price)
	assert.Equal(t, 2.0, sell.AvailableFrom) // bid volume, base units
	assert.InDelta(t, 100_000.0, sell.Convert(2), 1e-9)

	require.Len(t, snap.Edges["USDT"], 1)
	buy := snap.Edges["USDT"][0]
	assert.Equal(t, domain.OrderSideBuy, buy.Side)
	assert.Equal(t, 50_010.0, buy.Price)
	assert.InDelta(t, 3*50_010.0, buy.AvailableFrom, 1e-9) // ask volume in quote units
	assert.InDelta(t, 1.0, buy.Convert(50_010), 1e-12)
}

func TestSnapshotFilters(t *testing.T) {
	g := New()
	now := time.Now().UTC()

	g.Upsert(btcUpdate(now, 50_000, 50_010))
	g.Upsert(domain.PairUpdate{
		Symbol: "DOGEUSDT", Base: "DOGE", Quote: "USDT",
		Bid: 0.1, Ask: 0.11, BidVolume: 100, AskVolume: 100,
		Volume24h: 500, Timestamp: now,
	})
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT",
		Bid: 2600, Ask: 2601, BidVolume: 5, AskVolume: 5,
		Volume24h: 1_000_000, Timestamp: now.Add(-time.Minute),
	})

	snap := g.Snapshot(SnapshotFilter{
		MinVolume24h: 1000,
		MaxQuoteAge:  10 * time.Second,
		Now:          now,
	})

	assert.NotEmpty(t, snap.Edges["BTC"])
	assert.Empty(t, snap.Edges["DOGE"], "below 24h volume filter")
	assert.Empty(t, snap.Edges["ETH"], "stale quote")

	// Filtered pairs remain registered and reactivate on a fresh tick.
	assert.Equal(t, 3, g.Len())
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT",
		Bid: 2600, Ask: 2601, BidVolume: 5, AskVolume: 5,
		Volume24h: 1_000_000, Timestamp: now,
	})
	snap = g.Snapshot(SnapshotFilter{MinVolume24h: 1000, MaxQuoteAge: 10 * time.Second, Now: now})
	assert.NotEmpty(t, snap.Edges["ETH"])
}

func TestSnapshotExcludesZeroPriceAndVolume(t *testing.T) {
	g := New()
	now := time.Now().UTC()
	g.Upsert(domain.PairUpdate{
		Symbol: "XRPUSDT", Base: "XRP", Quote: "USDT",
		Bid: 0, Ask: 0.5, BidVolume: 0, AskVolume: 10,
		Volume24h: 10_000, Timestamp: now,
	})

	snap := g.Snapshot(SnapshotFilter{Now: now})
	assert.Empty(t, snap.Edges["XRP"], "no sell edge without a bid")
	require.Len(t, snap.Edges["USDT"], 1, "buy edge still active")
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	g := New()
	now := time.Now().UTC()
	g.Upsert(btcUpdate(now, 50_000, 50_010))

	snap := g.Snapshot(SnapshotFilter{Now: now})
	g.Upsert(btcUpdate(now.Add(time.Second), 10, 11))

	assert.Equal(t, 50_000.0, snap.Edges["BTC"][0].Price, "snapshot must not observe later writes")
}
