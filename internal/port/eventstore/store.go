// Package eventstore defines the port interface for the append-only event store.
package eventstore

import (
	"context"

	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// Store is the port interface for appending and loading events. The store is
// the single authority over persisted events: it assigns every event a
// 1-based, gapless aggregate sequence (the optimistic lock) and a strictly
// increasing global sequence (the total order).
type Store interface {
	// Append atomically persists the given events for one aggregate,
	// assigning aggregate sequences expectedVersion+1.. and fresh global
	// sequences. It fails with domain.ErrConflict when another writer has
	// already advanced the aggregate past expectedVersion. Conflict is never
	// retried here; the caller reloads and re-runs decide.
	Append(ctx context.Context, events []event.Domain, expectedVersion uint64) ([]event.Stored, error)

	// Load returns all events of one aggregate in aggregate-sequence order.
	// An empty slice means "not yet created", not an error.
	Load(ctx context.Context, aggregateType, aggregateID string) ([]event.Stored, error)

	// QuerySince returns all events across aggregates with a global sequence
	// strictly greater than globalSeq, in global order.
	QuerySince(ctx context.Context, globalSeq uint64) ([]event.Stored, error)

	// EarliestGlobalSequence returns the smallest global sequence still in
	// the store, or 0 when the store is empty. Used to detect stale client
	// cursors after compaction.
	EarliestGlobalSequence(ctx context.Context) (uint64, error)

	// LatestGlobalSequence returns the largest assigned global sequence, or
	// 0 when the store is empty.
	LatestGlobalSequence(ctx context.Context) (uint64, error)
}
