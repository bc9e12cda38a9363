package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	fail   bool
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{EventCircuitBreaker}, slog.Default())

	err := n.Notify(context.Background(), EventTradeCompleted, "trade done", "details")
	require.NoError(t, err)
	assert.Empty(t, s.sent(), "filtered event must not reach senders")

	err = n.Notify(context.Background(), EventCircuitBreaker, "breaker tripped", "details")
	require.NoError(t, err)
	assert.Equal(t, []string{"breaker tripped"}, s.sent())
}

func TestNotifyEmptyEventListAllowsEverything(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventError, "oops", "details"))
	require.NoError(t, n.Notify(context.Background(), "custom_event", "custom", "details"))
	assert.Len(t, s.sent(), 2)
}

func TestNotifyFanOutContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{fail: true}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.Notify(context.Background(), EventPartialFailure, "leg stuck", "details")
	require.Error(t, err)
	assert.Equal(t, []string{"leg stuck"}, good.sent(), "healthy sender still delivers")
}

func TestNotifyNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, slog.Default())
	require.NoError(t, n.Notify(context.Background(), EventError, "t", "m"))
}
