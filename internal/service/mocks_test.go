package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
)

// memStore is an in-memory event store with real optimistic concurrency,
// shared by the command and stream tests.
type memStore struct {
	mu         sync.Mutex
	events     []event.Stored
	nextGlobal uint64

	// beforeAppend, when set, runs once inside Append before the version
	// check. Tests use it to interleave a competing writer.
	beforeAppend func()
	// afterQuerySince, when set, runs once after QuerySince computed its
	// result. Tests use it to commit-and-publish between a subscriber's
	// replay query and its live phase.
	afterQuerySince func()
}

var _ eventstore.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) Append(_ context.Context, events []event.Domain, expectedVersion uint64) ([]event.Stored, error) {
	s.mu.Lock()
	if hook := s.beforeAppend; hook != nil {
		s.beforeAppend = nil
		s.mu.Unlock()
		hook()
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if len(events) == 0 {
		return nil, nil
	}
	if got := s.versionLocked(events[0].AggregateType, events[0].AggregateID); got != expectedVersion {
		return nil, fmt.Errorf("expected version %d, at %d: %w", expectedVersion, got, domain.ErrConflict)
	}
	return s.appendLocked(events, expectedVersion), nil
}

func (s *memStore) versionLocked(aggregateType, aggregateID string) uint64 {
	var version uint64
	for _, ev := range s.events {
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID {
			version = ev.AggregateSequence
		}
	}
	return version
}

func (s *memStore) appendLocked(events []event.Domain, expectedVersion uint64) []event.Stored {
	out := make([]event.Stored, len(events))
	for i, ev := range events {
		s.nextGlobal++
		out[i] = event.Stored{
			Domain:            ev,
			AggregateSequence: expectedVersion + uint64(i) + 1,
			GlobalSequence:    s.nextGlobal,
		}
		s.events = append(s.events, out[i])
	}
	return out
}

// mustAppend appends at the aggregate's current version, simulating another
// writer that does not race.
func (s *memStore) mustAppend(events ...event.Domain) []event.Stored {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(events) == 0 {
		return nil
	}
	expected := s.versionLocked(events[0].AggregateType, events[0].AggregateID)
	return s.appendLocked(events, expected)
}

func (s *memStore) Load(_ context.Context, aggregateType, aggregateID string) ([]event.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Stored
	for _, ev := range s.events {
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memStore) QuerySince(_ context.Context, globalSeq uint64) ([]event.Stored, error) {
	s.mu.Lock()
	var out []event.Stored
	for _, ev := range s.events {
		if ev.GlobalSequence > globalSeq {
			out = append(out, ev)
		}
	}
	hook := s.afterQuerySince
	s.afterQuerySince = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) EarliestGlobalSequence(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[0].GlobalSequence, nil
}

func (s *memStore) LatestGlobalSequence(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].GlobalSequence, nil
}

// truncateBefore drops events below the given global sequence, simulating
// retention compaction.
func (s *memStore) truncateBefore(globalSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []event.Stored
	for _, ev := range s.events {
		if ev.GlobalSequence >= globalSeq {
			kept = append(kept, ev)
		}
	}
	s.events = kept
}

// alwaysConflictStore fails every Append with ErrConflict and counts attempts.
type alwaysConflictStore struct {
	*memStore
	attempts int
}

func (s *alwaysConflictStore) Append(context.Context, []event.Domain, uint64) ([]event.Stored, error) {
	s.attempts++
	return nil, domain.ErrConflict
}

// publishFailBus wraps a bus so Publish always fails; subscriptions still work.
type publishFailBus struct {
	eventbus.Bus
	err error
}

func (b *publishFailBus) Publish(context.Context, event.Stored) error { return b.err }
