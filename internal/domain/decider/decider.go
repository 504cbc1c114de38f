// Package decider defines the pure command/state-transition contract shared by
// every aggregate type: decide turns a command and the current state into new
// events, evolve folds an event into the state. Neither function performs I/O,
// reads the clock, or generates randomness; everything time- or
// identity-shaped arrives through the Context supplied by the caller.
package decider

import (
	"fmt"
	"time"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// Context carries the caller-supplied ambient values a decide call may use.
type Context struct {
	Now           time.Time
	CorrelationID string
	NewID         func() string
}

// Command targets exactly one aggregate instance. Commands are validated
// before they reach Decide.
type Command interface {
	AggregateType() string
	AggregateID() string
}

// Decider is the flat capability interface implemented once per aggregate
// type. Decide is total over the declared command variants: business-invalid
// combinations return an error wrapping domain.ErrDomainRule. Evolve is total
// over every (state, event) pair reachable from InitialState and never fails.
type Decider interface {
	AggregateType() string

	// InitialState is the distinguished "not yet created" state.
	InitialState() any

	// Decide returns the candidate events the command produces against the
	// given state, or an error when a business precondition is violated.
	Decide(ctx Context, cmd Command, state any) ([]event.Domain, error)

	// Evolve folds one event into the state and returns the next state.
	Evolve(state any, ev event.Domain) any
}

// Fold reconstructs state by folding Evolve over stored events in order.
// It is a catamorphism: folding any contiguous split of the sequence in two
// steps yields the same state as folding it in one.
func Fold(d Decider, state any, events []event.Stored) any {
	for _, ev := range events {
		state = d.Evolve(state, ev.Domain)
	}
	return state
}

// Registry maps aggregate type tags to their deciders. It is constructed once
// at startup and read-only afterwards.
type Registry struct {
	deciders map[string]Decider
}

// NewRegistry creates a registry containing the given deciders.
func NewRegistry(deciders ...Decider) *Registry {
	r := &Registry{deciders: make(map[string]Decider, len(deciders))}
	for _, d := range deciders {
		r.deciders[d.AggregateType()] = d
	}
	return r
}

// Register adds a decider, replacing any previous one for the same type.
func (r *Registry) Register(d Decider) {
	r.deciders[d.AggregateType()] = d
}

// Get returns the decider for the given aggregate type.
func (r *Registry) Get(aggregateType string) (Decider, error) {
	d, ok := r.deciders[aggregateType]
	if !ok {
		return nil, fmt.Errorf("aggregate type %q: %w", aggregateType, domain.ErrNotFound)
	}
	return d, nil
}
