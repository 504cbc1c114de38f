package eventstore

import (
	"context"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/upcast"
)

// upcastingStore decorates a Store so every load path returns events already
// upcast to the current schema versions. Appends pass through untouched:
// candidate events are produced by current deciders and are current by
// construction.
type upcastingStore struct {
	inner Store
	chain *upcast.Chain
}

// WithUpcasting wraps store so Load and QuerySince apply the given chain.
func WithUpcasting(store Store, chain *upcast.Chain) Store {
	return &upcastingStore{inner: store, chain: chain}
}

func (s *upcastingStore) Append(ctx context.Context, events []event.Domain, expectedVersion uint64) ([]event.Stored, error) {
	return s.inner.Append(ctx, events, expectedVersion)
}

func (s *upcastingStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]event.Stored, error) {
	events, err := s.inner.Load(ctx, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	return s.chain.ApplyAll(events)
}

func (s *upcastingStore) QuerySince(ctx context.Context, globalSeq uint64) ([]event.Stored, error) {
	events, err := s.inner.QuerySince(ctx, globalSeq)
	if err != nil {
		return nil, err
	}
	return s.chain.ApplyAll(events)
}

func (s *upcastingStore) EarliestGlobalSequence(ctx context.Context) (uint64, error) {
	return s.inner.EarliestGlobalSequence(ctx)
}

func (s *upcastingStore) LatestGlobalSequence(ctx context.Context) (uint64, error) {
	return s.inner.LatestGlobalSequence(ctx)
}
