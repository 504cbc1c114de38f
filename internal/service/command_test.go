package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tidewater-labs/driftline/internal/adapter/membus"
	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/decider"
	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/domain/todo"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
)

func commandContext() decider.Context {
	return decider.Context{
		Now:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CorrelationID: "corr-cmd",
		NewID:         func() string { return "generated" },
	}
}

func newCommandService(store *memStore) (*CommandService, *membus.Bus) {
	bus := membus.New()
	registry := decider.NewRegistry(todo.NewDecider())
	return NewCommandService(store, bus, registry), bus
}

func TestExecuteAppendsAndPublishes(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), eventbus.PatternAll())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	stored, err := svc.Execute(context.Background(), commandContext(), todo.Create{ID: "t1", Title: "first"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d events", len(stored))
	}
	if stored[0].AggregateSequence != 1 || stored[0].GlobalSequence != 1 {
		t.Errorf("sequences = %d/%d, want 1/1", stored[0].AggregateSequence, stored[0].GlobalSequence)
	}

	select {
	case ev := <-sub.Events():
		if ev.GlobalSequence != stored[0].GlobalSequence {
			t.Errorf("published %d, committed %d", ev.GlobalSequence, stored[0].GlobalSequence)
		}
	case <-time.After(time.Second):
		t.Fatal("committed event never published")
	}
}

func TestExecuteSequencesAdvance(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	ctx := context.Background()
	cmdCtx := commandContext()

	if _, err := svc.Execute(ctx, cmdCtx, todo.Create{ID: "t1", Title: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Execute(ctx, cmdCtx, todo.Create{ID: "t2", Title: "b"}); err != nil {
		t.Fatalf("create t2: %v", err)
	}
	stored, err := svc.Execute(ctx, cmdCtx, todo.Rename{ID: "t1", Title: "a2"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}

	// Aggregate sequences are per aggregate, global across all.
	if stored[0].AggregateSequence != 2 {
		t.Errorf("aggregate_sequence = %d, want 2", stored[0].AggregateSequence)
	}
	if stored[0].GlobalSequence != 3 {
		t.Errorf("global_sequence = %d, want 3", stored[0].GlobalSequence)
	}
}

func TestExecuteValidationFailsFast(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	_, err := svc.Execute(context.Background(), commandContext(), todo.Create{ID: "t1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(store.events) != 0 {
		t.Error("events appended for invalid command")
	}
}

func TestExecuteDomainRule(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	_, err := svc.Execute(context.Background(), commandContext(), todo.Complete{ID: "missing"})
	if !errors.Is(err, domain.ErrDomainRule) {
		t.Fatalf("err = %v, want ErrDomainRule", err)
	}
}

func TestExecuteUnknownAggregateType(t *testing.T) {
	store := newMemStore()
	bus := membus.New()
	defer bus.Close()
	svc := NewCommandService(store, bus, decider.NewRegistry())

	_, err := svc.Execute(context.Background(), commandContext(), todo.Create{ID: "t1", Title: "x"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplayFoldMatchesLoadFold(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	ctx := context.Background()
	cmdCtx := commandContext()

	for _, cmd := range []decider.Command{
		todo.Create{ID: "t1", Title: "first"},
		todo.Create{ID: "t2", Title: "second"},
		todo.Rename{ID: "t1", Title: "renamed"},
		todo.Complete{ID: "t2"},
	} {
		if _, err := svc.Execute(ctx, cmdCtx, cmd); err != nil {
			t.Fatalf("Execute %T: %v", cmd, err)
		}
	}

	d := todo.NewDecider()
	all, err := store.QuerySince(ctx, 0)
	if err != nil {
		t.Fatalf("QuerySince: %v", err)
	}

	for _, id := range []string{"t1", "t2"} {
		loaded, err := store.Load(ctx, todo.AggregateType, id)
		if err != nil {
			t.Fatalf("Load %s: %v", id, err)
		}
		direct := decider.Fold(d, d.InitialState(), loaded)

		var scoped []event.Stored
		for _, ev := range all {
			if ev.AggregateType == todo.AggregateType && ev.AggregateID == id {
				scoped = append(scoped, ev)
			}
		}
		replayed := decider.Fold(d, d.InitialState(), scoped)

		if !reflect.DeepEqual(direct, replayed) {
			t.Errorf("aggregate %s: replayed state %+v, loaded state %+v", id, replayed, direct)
		}
	}
}

func TestExecuteNoOpProducesNothing(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	ctx := context.Background()
	cmdCtx := commandContext()
	if _, err := svc.Execute(ctx, cmdCtx, todo.Create{ID: "t1", Title: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := svc.Execute(ctx, cmdCtx, todo.Rename{ID: "t1", Title: "a"})
	if err != nil {
		t.Fatalf("rename to same title: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("no-op command stored %d events", len(stored))
	}
	if len(store.events) != 1 {
		t.Errorf("store grew to %d events", len(store.events))
	}
}

func TestExecuteConflictReloadsAndRetries(t *testing.T) {
	store := newMemStore()
	svc, bus := newCommandService(store)
	defer bus.Close()

	ctx := context.Background()
	cmdCtx := commandContext()
	if _, err := svc.Execute(ctx, cmdCtx, todo.Create{ID: "t1", Title: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A competing writer commits between this command's load and append. The
	// first append conflicts; the retry decides against the fresh state and
	// lands at the next slot.
	store.beforeAppend = func() {
		store.mustAppend(mustDecide(t, cmdCtx, todo.Rename{ID: "t1", Title: "intruder"}, todo.State{Exists: true, Title: "a"})...)
	}

	stored, err := svc.Execute(ctx, cmdCtx, todo.Complete{ID: "t1"})
	if err != nil {
		t.Fatalf("Execute after conflict: %v", err)
	}
	if stored[0].AggregateSequence != 3 {
		t.Errorf("aggregate_sequence = %d, want 3", stored[0].AggregateSequence)
	}
	if got := len(store.events); got != 3 {
		t.Errorf("store has %d events, want 3", got)
	}
}

func TestExecuteConflictExhaustsAttempts(t *testing.T) {
	store := &alwaysConflictStore{memStore: newMemStore()}
	bus := membus.New()
	defer bus.Close()
	svc := NewCommandService(store, bus, decider.NewRegistry(todo.NewDecider()))
	svc.SetMaxAttempts(3)

	_, err := svc.Execute(context.Background(), commandContext(), todo.Create{ID: "t1", Title: "x"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if store.attempts != 3 {
		t.Errorf("append attempts = %d, want 3", store.attempts)
	}
}

func TestExecutePublishFailureDoesNotFailCommand(t *testing.T) {
	store := newMemStore()
	inner := membus.New()
	defer inner.Close()
	bus := &publishFailBus{Bus: inner, err: errors.New("bus down")}
	svc := NewCommandService(store, bus, decider.NewRegistry(todo.NewDecider()))

	stored, err := svc.Execute(context.Background(), commandContext(), todo.Create{ID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(stored) != 1 || len(store.events) != 1 {
		t.Error("committed event lost on publish failure")
	}
}

// mustDecide runs the todo decider directly for test setup.
func mustDecide(t *testing.T, cmdCtx decider.Context, cmd decider.Command, state todo.State) []event.Domain {
	t.Helper()
	events, err := todo.NewDecider().Decide(cmdCtx, cmd, state)
	if err != nil {
		t.Fatalf("setup decide: %v", err)
	}
	return events
}
