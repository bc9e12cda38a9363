package blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwheel/arbwheel/internal/domain"
)

type fakeTradeStore struct {
	domain.TradeStore
	trades []domain.LiveTrade
}

func (f *fakeTradeStore) ListFinalizedBetween(_ context.Context, since, until time.Time) ([]domain.LiveTrade, error) {
	var out []domain.LiveTrade
	for _, t := range f.trades {
		if t.CompletedAt == nil {
			continue
		}
		if !t.CompletedAt.Before(since) && t.CompletedAt.Before(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

type memBlob struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlob) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func finalizedTrade(id string, completedAt time.Time) domain.LiveTrade {
	return domain.LiveTrade{
		ID:          id,
		Status:      domain.TradeStatusCompleted,
		Path:        []domain.Currency{"USDT", "BTC", "ETH", "USDT"},
		AmountIn:    100,
		CompletedAt: &completedAt,
	}
}

func TestArchiveDayWritesDailyJSONL(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	store := &fakeTradeStore{trades: []domain.LiveTrade{
		finalizedTrade("t1", day.Add(2*time.Hour)),
		finalizedTrade("t2", day.Add(20*time.Hour)),
		finalizedTrade("other-day", day.Add(25*time.Hour)),
	}}
	sink := newMemBlob()
	a := NewArchiver(store, sink, "trades", slog.Default())

	require.NoError(t, a.ArchiveDay(context.Background(), day))

	data, ok := sink.objects["trades/2026-03-14.jsonl"]
	require.True(t, ok, "expected a daily object")
	assert.Equal(t, "application/x-ndjson", sink.types["trades/2026-03-14.jsonl"])

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var tr domain.LiveTrade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestArchiveDaySkipsEmptyDays(t *testing.T) {
	sink := newMemBlob()
	a := NewArchiver(&fakeTradeStore{}, sink, "trades", slog.Default())

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.ArchiveDay(context.Background(), day))
	assert.Empty(t, sink.objects)
}

func TestArchivePendingCatchesUpMultipleDays(t *testing.T) {
	d1 := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	store := &fakeTradeStore{trades: []domain.LiveTrade{
		finalizedTrade("a", d1),
		finalizedTrade("b", d2),
	}}
	sink := newMemBlob()
	a := NewArchiver(store, sink, "trades", slog.Default())
	a.now = func() time.Time { return time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC) }
	a.lastArchived = time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	require.NoError(t, a.archivePending(context.Background()))

	assert.Contains(t, sink.objects, "trades/2026-03-12.jsonl")
	assert.Contains(t, sink.objects, "trades/2026-03-13.jsonl")
	assert.NotContains(t, sink.objects, "trades/2026-03-14.jsonl", "current day is still open")
}
