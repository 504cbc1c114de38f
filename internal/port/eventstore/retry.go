package eventstore

import (
	"context"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/resilience"
)

// retryingStore decorates a Store with bounded retries on the idempotent read
// operations. Append is never retried here: a write must not be repeated
// without confirming non-commit, and conflicts must surface to the caller.
type retryingStore struct {
	inner Store
	cfg   resilience.RetryConfig
}

// WithRetry wraps store so transient read failures are retried with backoff.
func WithRetry(store Store, cfg resilience.RetryConfig) Store {
	return &retryingStore{inner: store, cfg: cfg}
}

func (s *retryingStore) Append(ctx context.Context, events []event.Domain, expectedVersion uint64) ([]event.Stored, error) {
	return s.inner.Append(ctx, events, expectedVersion)
}

func (s *retryingStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]event.Stored, error) {
	var out []event.Stored
	err := resilience.Retry(ctx, s.cfg, func() error {
		var err error
		out, err = s.inner.Load(ctx, aggregateType, aggregateID)
		return err
	})
	return out, err
}

func (s *retryingStore) QuerySince(ctx context.Context, globalSeq uint64) ([]event.Stored, error) {
	var out []event.Stored
	err := resilience.Retry(ctx, s.cfg, func() error {
		var err error
		out, err = s.inner.QuerySince(ctx, globalSeq)
		return err
	})
	return out, err
}

func (s *retryingStore) EarliestGlobalSequence(ctx context.Context) (uint64, error) {
	var out uint64
	err := resilience.Retry(ctx, s.cfg, func() error {
		var err error
		out, err = s.inner.EarliestGlobalSequence(ctx)
		return err
	})
	return out, err
}

func (s *retryingStore) LatestGlobalSequence(ctx context.Context) (uint64, error) {
	var out uint64
	err := resilience.Retry(ctx, s.cfg, func() error {
		var err error
		out, err = s.inner.LatestGlobalSequence(ctx)
		return err
	})
	return out, err
}
