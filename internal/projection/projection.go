// Package projection folds events into queryable read models and keeps them
// live against the bus. A materialized view rebuilds from the full history at
// cold start and never serves partially rebuilt state.
package projection

import (
	"errors"

	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// ErrNotReady is returned by Snapshot before the initial rebuild finished.
var ErrNotReady = errors.New("projection not ready")

// View is the pure fold half of a read model. Apply must not block, perform
// I/O, or mutate the given state in place: it returns the next state,
// copy-on-write, so concurrently held snapshots stay immutable.
type View interface {
	Name() string
	InitialState() any
	Apply(state any, ev event.Stored) any
}

// Status is the lifecycle of a materialized view.
type Status int32

const (
	// StatusEmpty means the view holds no state and has not started.
	StatusEmpty Status = iota
	// StatusInitializing means the historical rebuild is in progress.
	StatusInitializing
	// StatusReady means the view serves authoritative reads and follows the bus.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}
