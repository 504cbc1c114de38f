package projection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidewater-labs/driftline/internal/adapter/membus"
	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
)

// sliceStore serves a fixed event slice; appends go through a mutex so tests
// can grow it while a view follows the bus.
type sliceStore struct {
	mu     sync.Mutex
	events []event.Stored
	err    error
}

var _ eventstore.Store = (*sliceStore)(nil)

func (s *sliceStore) add(events ...event.Stored) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *sliceStore) Append(context.Context, []event.Domain, uint64) ([]event.Stored, error) {
	return nil, errors.New("not used")
}

func (s *sliceStore) Load(context.Context, string, string) ([]event.Stored, error) {
	return nil, errors.New("not used")
}

func (s *sliceStore) QuerySince(_ context.Context, globalSeq uint64) ([]event.Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []event.Stored
	for _, ev := range s.events {
		if ev.GlobalSequence > globalSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *sliceStore) EarliestGlobalSequence(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[0].GlobalSequence, nil
}

func (s *sliceStore) LatestGlobalSequence(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].GlobalSequence, nil
}

func todoEvent(id, eventType string, payload string, aggSeq, globalSeq uint64) event.Stored {
	return event.Stored{
		Domain: event.Domain{
			AggregateType: "todo",
			AggregateID:   id,
			Type:          eventType,
			Version:       2,
			Payload:       json.RawMessage(payload),
			CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(globalSeq) * time.Second),
		},
		AggregateSequence: aggSeq,
		GlobalSequence:    globalSeq,
	}
}

func created(id, title string, aggSeq, globalSeq uint64) event.Stored {
	return todoEvent(id, "todo.created", `{"title":"`+title+`","priority":"normal"}`, aggSeq, globalSeq)
}

// waitForSeq polls Snapshot until the view reflects at least globalSeq.
func waitForSeq(t *testing.T, m *MaterializedView, globalSeq uint64) TodoListState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, seq, err := m.Snapshot()
		if err == nil && seq >= globalSeq {
			return state.(TodoListState)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("view never reached global sequence %d", globalSeq)
	return TodoListState{}
}

func TestSnapshotBeforeStart(t *testing.T) {
	m := New(NewTodoListView(), &sliceStore{}, membus.New(), eventbus.PatternAll())

	if m.Status() != StatusEmpty {
		t.Errorf("status = %v, want empty", m.Status())
	}
	if _, _, err := m.Snapshot(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestStartRebuildsFromHistory(t *testing.T) {
	store := &sliceStore{}
	store.add(
		created("t1", "first", 1, 1),
		created("t2", "second", 1, 2),
		todoEvent("t1", "todo.completed", `{}`, 2, 3),
		todoEvent("t2", "todo.archived", `{}`, 2, 4),
	)
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if m.Status() != StatusReady {
		t.Fatalf("status = %v, want ready", m.Status())
	}
	state, seq, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if seq != 4 {
		t.Errorf("snapshot seq = %d, want 4", seq)
	}

	items := state.(TodoListState)
	if len(items.Items) != 1 {
		t.Fatalf("items = %d, want 1 (t2 archived)", len(items.Items))
	}
	if item := items.Items["t1"]; !item.Completed || item.Title != "first" {
		t.Errorf("t1 = %+v", item)
	}
}

func TestStartFailsWhenRebuildFails(t *testing.T) {
	store := &sliceStore{err: errors.New("db down")}
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing store")
	}
	if m.Status() != StatusEmpty {
		t.Errorf("status = %v, want empty after failed start", m.Status())
	}
	// Stop on a never-started view must not hang.
	m.Stop()
}

func TestLiveApply(t *testing.T) {
	store := &sliceStore{}
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	ev := created("t1", "live", 1, 1)
	store.add(ev)
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	state := waitForSeq(t, m, 1)
	if state.Items["t1"].Title != "live" {
		t.Errorf("items = %+v", state.Items)
	}
}

func TestLiveApplyDedupesRebuildOverlap(t *testing.T) {
	store := &sliceStore{}
	ev1 := created("t1", "one", 1, 1)
	store.add(ev1)
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// Redeliver event 1, then a rename that must apply exactly once on the
	// deduped state.
	_ = bus.Publish(context.Background(), ev1)
	ev2 := todoEvent("t1", "todo.renamed", `{"title":"two"}`, 2, 2)
	store.add(ev2)
	_ = bus.Publish(context.Background(), ev2)

	state := waitForSeq(t, m, 2)
	if got := state.Items["t1"].Title; got != "two" {
		t.Errorf("title = %q, want %q", got, "two")
	}
	if len(state.Items) != 1 {
		t.Errorf("items = %d, want 1", len(state.Items))
	}
}

func TestLiveApplyBackfillsGaps(t *testing.T) {
	store := &sliceStore{}
	ev1 := created("t1", "one", 1, 1)
	store.add(ev1)
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// Events 2 and 3 commit but their notifications are lost; 4 arrives.
	store.add(
		created("t2", "two", 1, 2),
		todoEvent("t1", "todo.completed", `{}`, 2, 3),
	)
	ev4 := created("t3", "four", 1, 4)
	store.add(ev4)
	_ = bus.Publish(context.Background(), ev4)

	state := waitForSeq(t, m, 4)
	if len(state.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(state.Items))
	}
	if !state.Items["t1"].Completed {
		t.Error("backfilled completion not applied")
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	store := &sliceStore{}
	store.add(created("t1", "before", 1, 1))
	bus := membus.New()
	defer bus.Close()

	m := New(NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	held, _, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	ev2 := todoEvent("t1", "todo.renamed", `{"title":"after"}`, 2, 2)
	store.add(ev2)
	_ = bus.Publish(context.Background(), ev2)
	waitForSeq(t, m, 2)

	// The previously taken snapshot still shows the old title.
	if got := held.(TodoListState).Items["t1"].Title; got != "before" {
		t.Errorf("held snapshot mutated: title = %q", got)
	}
}

func TestTodoListSorted(t *testing.T) {
	v := NewTodoListView()
	state := v.InitialState()
	state = v.Apply(state, created("b", "second", 1, 2))
	state = v.Apply(state, created("a", "first", 1, 1))

	sorted := state.(TodoListState).Sorted()
	if len(sorted) != 2 {
		t.Fatalf("sorted = %d items", len(sorted))
	}
	if sorted[0].ID != "a" || sorted[1].ID != "b" {
		t.Errorf("order = %s, %s", sorted[0].ID, sorted[1].ID)
	}
}

func TestTodoListIgnoresForeignAndAuditEvents(t *testing.T) {
	v := NewTodoListView()
	state := v.Apply(v.InitialState(), created("t1", "x", 1, 1))

	next := v.Apply(state, event.Stored{
		Domain:         event.Domain{AggregateType: "order", AggregateID: "o1", Type: "order.placed"},
		GlobalSequence: 2,
	})
	next = v.Apply(next, todoEvent("t1", "todo.completion_rejected", `{"reason":"archived"}`, 2, 3))

	items := next.(TodoListState).Items
	if len(items) != 1 || items["t1"].Completed {
		t.Errorf("items = %+v", items)
	}
}
