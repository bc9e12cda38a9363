package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
	"github.com/arbwheel/arbwheel/internal/graph"
)

func testConfig() domain.LiveTradingConfig {
	return domain.LiveTradingConfig{
		TradeAmount:     10_000,
		MinProfitPct:    0.1,
		StartCurrencies: []domain.Currency{"USDT"},
		MaxPathLegs:     4,
		TakerFeeRate:    0.0026,
		MakerFeeRate:    0.0010,
		FeePolicy:       domain.FeePolicyTaker,
	}
}

// triangleGraph builds USDT->BTC->ETH->USDT with a ~4% gross edge.
func triangleGraph(now time.Time) *graph.Graph {
	g := graph.New()
	g.Upsert(domain.PairUpdate{
		Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
		Bid: 49_990, Ask: 50_000, BidVolume: 5, AskVolume: 5,
		Volume24h: 1_000_000, Timestamp: now,
	})
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHBTC", Base: "ETH", Quote: "BTC",
		Bid: 0.0499, Ask: 0.05, BidVolume: 100, AskVolume: 100,
		Volume24h: 1_000_000, Timestamp: now,
	})
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT",
		Bid: 2_600, Ask: 2_601, BidVolume: 100, AskVolume: 100,
		Volume24h: 1_000_000, Timestamp: now,
	})
	return g
}

func scan(t *testing.T, g *graph.Graph, cfg domain.LiveTradingConfig) []domain.Opportunity {
	t.Helper()
	d := New(slog.Default())
	return d.Scan(g.Snapshot(graph.SnapshotFilter{Now: time.Now().UTC()}), cfg)
}

func findByPath(opps []domain.Opportunity, path string) (domain.Opportunity, bool) {
	for _, o := range opps {
		if o.Path() == path {
			return o, true
		}
	}
	return domain.Opportunity{}, false
}

func TestScanThreeLegChain(t *testing.T) {
	cfg := testConfig()
	opps := scan(t, triangleGraph(time.Now().UTC()), cfg)

	opp, ok := findByPath(opps, "USDT->BTC->ETH->USDT")
	require.True(t, ok, "expected triangle opportunity, got %d opportunities", len(opps))

	f := cfg.TakerFeeRate
	// start -> buy BTC at ask -> buy ETH at ask -> sell ETH at bid.
	want := 10_000.0 / 50_000 * (1 - f) / 0.05 * (1 - f) * 2_600 * (1 - f)
	require.Len(t, opp.Legs, 3)
	assert.InDelta(t, want, opp.AmountOut, 1e-9)

	wantGross := (10_000.0/50_000/0.05*2_600 - 10_000) / 10_000 * 100
	assert.InDelta(t, wantGross, opp.GrossProfitPct, 1e-9)
	assert.InDelta(t, (want-10_000)/10_000*100, opp.NetProfitPct, 1e-9)

	// Identity from the profit model: net = gross - fees.
	assert.InDelta(t, opp.GrossProfitPct-opp.TotalFeesPct, opp.NetProfitPct, 1e-9)

	assert.Equal(t, domain.OrderSideBuy, opp.Legs[0].Side)
	assert.Equal(t, domain.OrderSideBuy, opp.Legs[1].Side)
	assert.Equal(t, domain.OrderSideSell, opp.Legs[2].Side)
}

func TestScanDiscardsBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitPct = 50 // nothing clears this

	opps := scan(t, triangleGraph(time.Now().UTC()), cfg)
	assert.Empty(t, opps)
}

func TestScanOrdersByNetProfitThenLegCount(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfitPct = 0.1
	opps := scan(t, triangleGraph(time.Now().UTC()), cfg)
	require.NotEmpty(t, opps)

	for i := 1; i < len(opps); i++ {
		prev, cur := opps[i-1], opps[i]
		if prev.NetProfitPct == cur.NetProfitPct {
			assert.LessOrEqual(t, len(prev.Legs), len(cur.Legs))
		} else {
			assert.Greater(t, prev.NetProfitPct, cur.NetProfitPct)
		}
	}
}

func TestScanSkipsMissingQuote(t *testing.T) {
	now := time.Now().UTC()
	g := triangleGraph(now)
	// Kill the ETHUSDT bid: the sell edge disappears and the triangle with it.
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT",
		Bid: 0, Ask: 2_601, BidVolume: 0, AskVolume: 100,
		Volume24h: 1_000_000, Timestamp: now.Add(time.Second),
	})

	opps := scan(t, g, testConfig())
	_, ok := findByPath(opps, "USDT->BTC->ETH->USDT")
	assert.False(t, ok)
}

func TestScanLiquidityConstraint(t *testing.T) {
	now := time.Now().UTC()
	g := triangleGraph(now)
	// Shrink the ETHUSDT bid to 1 ETH: the cycle can only push ~2,600 USDT.
	g.Upsert(domain.PairUpdate{
		Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT",
		Bid: 2_600, Ask: 2_601, BidVolume: 1, AskVolume: 100,
		Volume24h: 1_000_000, Timestamp: now.Add(time.Second),
	})

	opps := scan(t, g, testConfig())
	opp, ok := findByPath(opps, "USDT->BTC->ETH->USDT")
	require.True(t, ok)

	assert.False(t, opp.Executable, "liquidity below trade amount")
	assert.Less(t, opp.MinVolumeAvailable, opp.AmountIn)
	assert.Greater(t, opp.MinVolumeAvailable, 2_000.0)
	assert.Less(t, opp.MinVolumeAvailable, 3_000.0)
}

func TestScanRespectsMaxLegs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPathLegs = 2

	opps := scan(t, triangleGraph(time.Now().UTC()), cfg)
	for _, o := range opps {
		assert.LessOrEqual(t, len(o.Legs), 2)
	}
	_, ok := findByPath(opps, "USDT->BTC->ETH->USDT")
	assert.False(t, ok)
}

func TestScanSimpleCyclesOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPathLegs = 6
	opps := scan(t, triangleGraph(time.Now().UTC()), cfg)

	for _, o := range opps {
		seen := map[domain.Currency]bool{}
		for _, leg := range o.Legs[:len(o.Legs)-1] {
			assert.False(t, seen[leg.To], "currency %s revisited in %s", leg.To, o.Path())
			seen[leg.To] = true
		}
	}
}

func TestScanMakerFeePolicy(t *testing.T) {
	now := time.Now().UTC()
	g := triangleGraph(now)
	g.Register("BTCUSDT", "BTC", "USDT", 0, 1_000_000, true)
	// Re-tick so registration metadata and fresh quote coexist.
	g.Upsert(domain.PairUpdate{
		Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
		Bid: 49_990, Ask: 50_000, BidVolume: 5, AskVolume: 5,
		Volume24h: 1_000_000, Timestamp: now.Add(time.Second),
	})

	cfg := testConfig()
	cfg.FeePolicy = domain.FeePolicyMakerEligible

	opps := scan(t, g, cfg)
	opp, ok := findByPath(opps, "USDT->BTC->ETH->USDT")
	require.True(t, ok)

	assert.Equal(t, cfg.MakerFeeRate, opp.Legs[0].FeeRate, "maker-eligible pair uses maker rate")
	assert.Equal(t, cfg.TakerFeeRate, opp.Legs[1].FeeRate)
}
