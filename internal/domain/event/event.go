// Package event defines the immutable domain event envelope and its stored form.
package event

import (
	"encoding/json"
	"time"
)

// Metadata carries contextual data recorded alongside every event.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// Domain is a single immutable past-tense fact about an aggregate, before the
// store has assigned sequence numbers to it. CreatedAt is supplied by the
// command context, never read from the wall clock inside decide or evolve.
type Domain struct {
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Type          string          `json:"event_type"`
	Version       int             `json:"event_version"` // schema version of Type, >= 1
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Stored is a Domain event plus the two sequence numbers assigned atomically
// on append: AggregateSequence (1-based, gapless per aggregate, the optimistic
// lock) and GlobalSequence (strictly increasing store-wide, the basis for
// stream resumption). The embedded Domain flattens into the JSON envelope.
type Stored struct {
	Domain
	AggregateSequence uint64 `json:"aggregate_sequence"`
	GlobalSequence    uint64 `json:"global_sequence"`
}
