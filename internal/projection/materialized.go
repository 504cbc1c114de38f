package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
)

// snapshot is one published read-only state of a view.
type snapshot struct {
	state     any
	globalSeq uint64
}

// MaterializedView owns one View's state. Writes are confined to a single
// apply goroutine; readers take the last published snapshot through an atomic
// pointer, lock-free.
//
// Start subscribes to the bus strictly before the historical load begins, so
// an event committed during the rebuild is either part of the history or
// waiting in the subscription buffer; the overlap is reconciled by
// global-sequence dedupe.
type MaterializedView struct {
	view    View
	store   eventstore.Store
	bus     eventbus.Bus
	pattern string

	status atomic.Int32
	snap   atomic.Pointer[snapshot]
	sub    eventbus.Subscription
	done   chan struct{}
}

// New creates a materialized view over the given store and bus. The pattern
// scopes which events reach the view; eventbus.PatternAll() follows the whole
// log.
func New(view View, store eventstore.Store, bus eventbus.Bus, pattern string) *MaterializedView {
	return &MaterializedView{
		view:    view,
		store:   store,
		bus:     bus,
		pattern: pattern,
		done:    make(chan struct{}),
	}
}

// Status returns the view lifecycle status.
func (m *MaterializedView) Status() Status {
	return Status(m.status.Load())
}

// Snapshot returns the last published state and the global sequence it
// reflects. It fails with ErrNotReady until the initial rebuild finished.
func (m *MaterializedView) Snapshot() (any, uint64, error) {
	if m.Status() != StatusReady {
		return nil, 0, fmt.Errorf("view %s: %w", m.view.Name(), ErrNotReady)
	}
	s := m.snap.Load()
	return s.state, s.globalSeq, nil
}

// Start rebuilds the view from history and then follows the bus until ctx is
// cancelled or Stop is called.
func (m *MaterializedView) Start(ctx context.Context) error {
	// Subscribe before the historical query so no event committed during the
	// rebuild can be missed.
	sub, err := m.bus.Subscribe(ctx, m.pattern)
	if err != nil {
		return fmt.Errorf("view %s subscribe: %w", m.view.Name(), err)
	}
	m.sub = sub
	m.status.Store(int32(StatusInitializing))

	history, err := m.store.QuerySince(ctx, 0)
	if err != nil {
		sub.Unsubscribe()
		m.status.Store(int32(StatusEmpty))
		return fmt.Errorf("view %s rebuild: %w", m.view.Name(), err)
	}

	state := m.view.InitialState()
	var lastSeq uint64
	for _, ev := range history {
		if !eventbus.Match(m.pattern, eventbus.Key(ev)) {
			lastSeq = ev.GlobalSequence
			continue
		}
		state = m.view.Apply(state, ev)
		lastSeq = ev.GlobalSequence
	}

	m.snap.Store(&snapshot{state: state, globalSeq: lastSeq})
	m.status.Store(int32(StatusReady))
	slog.Info("projection ready",
		"view", m.view.Name(),
		"events", len(history),
		"global_sequence", lastSeq,
	)

	go m.applyLoop(ctx, state, lastSeq)
	return nil
}

// Stop tears down the bus subscription and halts the apply loop. It is a
// no-op when the view never reached Ready.
func (m *MaterializedView) Stop() {
	if m.Status() != StatusReady {
		return
	}
	m.sub.Unsubscribe()
	<-m.done
}

// applyLoop is the single writer of the view state.
func (m *MaterializedView) applyLoop(ctx context.Context, state any, lastSeq uint64) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			if m.sub != nil {
				m.sub.Unsubscribe()
			}
			return
		case ev, ok := <-m.sub.Events():
			if !ok {
				return
			}
			state, lastSeq = m.applyOne(ctx, state, lastSeq, ev)
		}
	}
}

func (m *MaterializedView) applyOne(ctx context.Context, state any, lastSeq uint64, ev event.Stored) (any, uint64) {
	// Dedupe the rebuild/live overlap.
	if ev.GlobalSequence <= lastSeq {
		return state, lastSeq
	}

	// A jump in the global sequence on an unscoped subscription means the
	// best-effort bus dropped something; backfill from the store. Scoped
	// patterns skip foreign sequence numbers by construction and are left
	// alone.
	if m.pattern == eventbus.PatternAll() && ev.GlobalSequence > lastSeq+1 {
		missed, err := m.store.QuerySince(ctx, lastSeq)
		if err != nil {
			slog.Error("projection backfill failed", "view", m.view.Name(), "error", err)
		} else {
			for _, mev := range missed {
				if mev.GlobalSequence <= lastSeq || mev.GlobalSequence >= ev.GlobalSequence {
					continue
				}
				state = m.view.Apply(state, mev)
				lastSeq = mev.GlobalSequence
			}
		}
	}

	state = m.view.Apply(state, ev)
	lastSeq = ev.GlobalSequence
	m.snap.Store(&snapshot{state: state, globalSeq: lastSeq})
	return state, lastSeq
}
