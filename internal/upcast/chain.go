// Package upcast bridges old stored event schema versions to the version the
// current deciders expect. Upcasters run only on load; storage is never
// rewritten.
package upcast

import (
	"encoding/json"
	"fmt"

	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// SchemaError reports an unresolvable upcast path. It is fatal for the
// affected aggregate type, not a data error: loading must abort and the
// condition is an operational alarm.
type SchemaError struct {
	EventType string
	Version   int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no upcaster registered for %s v%d", e.EventType, e.Version)
}

// Upcaster transforms one event type's payload by exactly one version step,
// FromVersion -> FromVersion+1.
type Upcaster interface {
	EventType() string
	FromVersion() int
	Upcast(payload json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function into an Upcaster.
func Func(eventType string, fromVersion int, fn func(json.RawMessage) (json.RawMessage, error)) Upcaster {
	return funcUpcaster{eventType: eventType, from: fromVersion, fn: fn}
}

type funcUpcaster struct {
	eventType string
	from      int
	fn        func(json.RawMessage) (json.RawMessage, error)
}

func (f funcUpcaster) EventType() string { return f.eventType }
func (f funcUpcaster) FromVersion() int  { return f.from }
func (f funcUpcaster) Upcast(p json.RawMessage) (json.RawMessage, error) {
	return f.fn(p)
}

// Chain holds the registered version steps per event type plus the current
// (target) version of each type. Composition is associative with an implicit
// identity for events already at their current version.
type Chain struct {
	steps   map[string]map[int]Upcaster
	current map[string]int
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		steps:   make(map[string]map[int]Upcaster),
		current: make(map[string]int),
	}
}

// Register adds a one-step upcaster.
func (c *Chain) Register(u Upcaster) {
	byVersion, ok := c.steps[u.EventType()]
	if !ok {
		byVersion = make(map[int]Upcaster)
		c.steps[u.EventType()] = byVersion
	}
	byVersion[u.FromVersion()] = u
}

// Declare records the current schema version of an event type. Events of a
// declared type stored below that version must have a complete step path.
// Undeclared types pass through untouched.
func (c *Chain) Declare(eventType string, currentVersion int) {
	c.current[eventType] = currentVersion
}

// CanUpcast reports whether a one-step transform exists for (eventType, version).
func (c *Chain) CanUpcast(eventType string, version int) bool {
	_, ok := c.steps[eventType][version]
	return ok
}

// Apply upcasts a stored event to the current version of its type by repeated
// one-step application. The input is never mutated; a new in-memory value is
// returned. A missing step is a *SchemaError.
func (c *Chain) Apply(ev event.Stored) (event.Stored, error) {
	target, declared := c.current[ev.Type]
	if !declared || ev.Version >= target {
		return ev, nil
	}

	payload := ev.Payload
	version := ev.Version
	for version < target {
		step, ok := c.steps[ev.Type][version]
		if !ok {
			return event.Stored{}, &SchemaError{EventType: ev.Type, Version: version}
		}
		next, err := step.Upcast(payload)
		if err != nil {
			return event.Stored{}, fmt.Errorf("upcast %s v%d: %w", ev.Type, version, err)
		}
		payload = next
		version++
	}

	out := ev
	out.Payload = payload
	out.Version = version
	return out, nil
}

// ApplyAll upcasts a slice of stored events, failing on the first
// unresolvable event.
func (c *Chain) ApplyAll(events []event.Stored) ([]event.Stored, error) {
	out := make([]event.Stored, len(events))
	for i, ev := range events {
		up, err := c.Apply(ev)
		if err != nil {
			return nil, err
		}
		out[i] = up
	}
	return out, nil
}
