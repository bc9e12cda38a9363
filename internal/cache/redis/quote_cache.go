package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbwheel/arbwheel/internal/domain"
)

const quoteTTL = 2 * time.Minute

// QuoteCache keeps the latest book ticker per pair in Redis. The feed writes
// through on every update; on startup the app replays the cache into the
// instrument graph so scanning can begin before the websocket stream has
// touched every pair.
//
// Key schema:
//
//	quote:{symbol} - JSON-serialized PairQuote with a short TTL
//	quote:symbols  - set of symbols currently cached
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string { return "quote:" + symbol }

const quoteIndexKey = "quote:symbols"

// Set stores the latest quote for a pair. Stale entries fall out via TTL.
func (qc *QuoteCache) Set(ctx context.Context, quote domain.PairQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", quote.Symbol, err)
	}

	pipe := qc.rdb.TxPipeline()
	pipe.Set(ctx, quoteKey(quote.Symbol), data, quoteTTL)
	pipe.SAdd(ctx, quoteIndexKey, quote.Symbol)
	pipe.Expire(ctx, quoteIndexKey, quoteTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quote.Symbol, err)
	}
	return nil
}

// Get retrieves the cached quote for one pair.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) Get(ctx context.Context, symbol string) (domain.PairQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PairQuote{}, domain.ErrNotFound
		}
		return domain.PairQuote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}

	var quote domain.PairQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return domain.PairQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", symbol, err)
	}
	return quote, nil
}

// All returns every cached quote. Symbols whose entries expired between the
// index read and the value read are silently skipped.
func (qc *QuoteCache) All(ctx context.Context) ([]domain.PairQuote, error) {
	symbols, err := qc.rdb.SMembers(ctx, quoteIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list cached quote symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.Get(ctx, quoteKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: read cached quotes: %w", err)
	}

	quotes := make([]domain.PairQuote, 0, len(symbols))
	for sym, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var quote domain.PairQuote
		if err := json.Unmarshal(data, &quote); err != nil {
			return nil, fmt.Errorf("redis: unmarshal cached quote %s: %w", sym, err)
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}
