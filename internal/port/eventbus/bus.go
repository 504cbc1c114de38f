// Package eventbus defines the post-commit publish/subscribe port. Keys are
// hierarchical expressions in NATS subject form:
//
//	driftline.{aggregate_type}.{aggregate_id}.{aggregate_sequence}
//
// so a subscription can scope to everything ("driftline.>"), one aggregate
// type ("driftline.todo.>"), or one instance ("driftline.todo.<id>.>").
//
// The bus is best-effort notification: publish happens only after a
// successful append, and a publish failure never rolls back the committed
// event. The store stays authoritative; consumers resynchronize from it.
package eventbus

import (
	"context"
	"strconv"
	"strings"

	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// Namespace is the leading key segment for all driftline events.
const Namespace = "driftline"

// Bus is the publish/subscribe port shared by all adapters.
type Bus interface {
	// Publish fans out a committed event to matching subscribers, fire and
	// forget.
	Publish(ctx context.Context, ev event.Stored) error

	// Subscribe registers a delivery channel for events matching pattern.
	// Events from a single aggregate arrive in aggregate-sequence order.
	Subscribe(ctx context.Context, pattern string) (Subscription, error)

	// Close tears down the bus session.
	Close() error
}

// Subscription is one consumer's live event channel, torn down on Unsubscribe.
type Subscription interface {
	// Events yields matching events in delivery order. The channel is closed
	// on Unsubscribe or bus shutdown.
	Events() <-chan event.Stored

	// Unsubscribe removes the subscription and closes the channel. Safe to
	// call more than once.
	Unsubscribe()
}

// Key builds the publish key for a stored event.
func Key(ev event.Stored) string {
	return Namespace + "." + ev.AggregateType + "." + ev.AggregateID + "." +
		strconv.FormatUint(ev.AggregateSequence, 10)
}

// PatternAll matches every event in the namespace.
func PatternAll() string { return Namespace + ".>" }

// PatternType matches every event of one aggregate type.
func PatternType(aggregateType string) string {
	return Namespace + "." + aggregateType + ".>"
}

// PatternInstance matches every event of one aggregate instance.
func PatternInstance(aggregateType, aggregateID string) string {
	return Namespace + "." + aggregateType + "." + aggregateID + ".>"
}

// Match reports whether a key matches a pattern. "*" matches exactly one
// segment, ">" matches one or more trailing segments. The in-process bus uses
// this; the NATS adapter relies on identical server-side semantics.
func Match(pattern, key string) bool {
	p := strings.Split(pattern, ".")
	k := strings.Split(key, ".")

	for i, seg := range p {
		if seg == ">" {
			return len(k) > i
		}
		if i >= len(k) {
			return false
		}
		if seg != "*" && seg != k[i] {
			return false
		}
	}
	return len(k) == len(p)
}
