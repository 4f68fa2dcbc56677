package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/strata/runtime"
)

// StoreSubscriber writes events to an EventStore. Handle can be used as a
// runtime.EventHandler directly; Drain consumes a bus subscription.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store. Failures are logged and
// otherwise ignored so that a broken history never fails a run.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"component", event.Component,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Drain persists events from sub until the subscription is closed or ctx
// is done. It returns the number of events handled.
func (s *StoreSubscriber) Drain(ctx context.Context, sub Subscription) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case e, ok := <-sub.Events():
			if !ok {
				return n
			}
			s.Handle(e)
			n++
		}
	}
}
