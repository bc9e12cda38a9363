package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists live trade records field-for-field, including the
// nullable held/resolution columns.
type TradeStore interface {
	Create(ctx context.Context, trade LiveTrade) error
	Update(ctx context.Context, trade LiveTrade) error
	GetByID(ctx context.Context, id string) (LiveTrade, error)
	ListRecent(ctx context.Context, limit int) ([]LiveTrade, error)
	// ListUnhealthy returns trades stuck in partial_failure, for operator
	// dashboards and startup reconciliation.
	ListUnhealthy(ctx context.Context) ([]LiveTrade, error)
	ListFinalizedBetween(ctx context.Context, since, until time.Time) ([]LiveTrade, error)
}

// StateStore persists the singleton trading state row.
type StateStore interface {
	Save(ctx context.Context, state LiveTradingState) error
	Load(ctx context.Context) (LiveTradingState, error)
}

// OpportunityStore keeps a rolling history of detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the pub/sub fabric carrying opportunity, trade and state
// events to the dashboard feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter stores immutable objects (trade archives) under a key.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
