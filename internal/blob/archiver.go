// Package blob archives finalized trades to object storage as daily JSONL
// files, one JSON object per line per trade.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbwheel/arbwheel/internal/domain"
)

// checkInterval is how often the archiver wakes to see whether a new UTC day
// has started.
const checkInterval = time.Hour

// Archiver periodically exports the previous UTC day's finalized trades to
// object storage under {prefix}/YYYY-MM-DD.jsonl. A day is archived once its
// UTC midnight has passed, so every file is immutable after upload.
type Archiver struct {
	trades domain.TradeStore
	blob   domain.BlobWriter
	prefix string
	logger *slog.Logger

	lastArchived time.Time // UTC midnight of the newest archived day

	now func() time.Time
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(trades domain.TradeStore, blob domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		trades: trades,
		blob:   blob,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run archives completed days until the context is cancelled. It catches up
// immediately on start and then checks hourly.
func (a *Archiver) Run(ctx context.Context) error {
	// Start from yesterday so the first pass archives exactly one day.
	a.lastArchived = midnightUTC(a.now()).AddDate(0, 0, -2)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		if err := a.archivePending(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// archivePending archives every fully elapsed UTC day newer than the last
// archived one.
func (a *Archiver) archivePending(ctx context.Context) error {
	today := midnightUTC(a.now())

	for day := a.lastArchived.AddDate(0, 0, 1); day.Before(today); day = day.AddDate(0, 0, 1) {
		if err := a.ArchiveDay(ctx, day); err != nil {
			return err
		}
		a.lastArchived = day
	}
	return nil
}

// ArchiveDay exports the finalized trades of a single UTC day. Days with no
// trades produce no object.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	since := midnightUTC(day)
	until := since.AddDate(0, 0, 1)

	trades, err := a.trades.ListFinalizedBetween(ctx, since, until)
	if err != nil {
		return fmt.Errorf("blob: list trades for %s: %w", since.Format("2006-01-02"), err)
	}
	if len(trades) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("blob: encode trade %s: %w", t.ID, err)
		}
	}

	key := fmt.Sprintf("%s/%s.jsonl", a.prefix, since.Format("2006-01-02"))
	if err := a.blob.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("blob: upload %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "archived trades",
		slog.String("key", key),
		slog.Int("trades", len(trades)),
	)
	return nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
