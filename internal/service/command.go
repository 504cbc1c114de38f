// Package service orchestrates command handling and event streaming on top of
// the store and bus ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	driftotel "github.com/tidewater-labs/driftline/internal/adapter/otel"
	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/decider"
	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
)

// defaultMaxAttempts bounds the reload-and-retry loop on append conflicts.
// Attempt-count (rather than a deadline) keeps a hot aggregate from spinning
// while staying deterministic under test.
const defaultMaxAttempts = 5

// validator is implemented by commands that check their own input shape.
type validator interface {
	Validate() error
}

// CommandService runs validated commands through decide, appends the produced
// events with optimistic concurrency, and publishes them post-commit.
type CommandService struct {
	store       eventstore.Store
	bus         eventbus.Bus
	registry    *decider.Registry
	maxAttempts int
	metrics     *driftotel.Metrics
}

// NewCommandService creates a CommandService. The store is expected to be
// wrapped with upcasting so loads always return current-version events.
func NewCommandService(store eventstore.Store, bus eventbus.Bus, registry *decider.Registry) *CommandService {
	return &CommandService{
		store:       store,
		bus:         bus,
		registry:    registry,
		maxAttempts: defaultMaxAttempts,
	}
}

// SetMaxAttempts overrides the conflict retry bound.
func (s *CommandService) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// SetMetrics attaches metric instruments.
func (s *CommandService) SetMetrics(m *driftotel.Metrics) {
	s.metrics = m
}

// Execute runs one command to completion: load, fold, decide, append, publish.
//
// A conflict on append means another writer won the sequence slot; the
// aggregate is reloaded and decide re-run against the fresh state, up to the
// attempt bound. Validation and domain-rule errors return immediately and are
// never retried. Publish failures are logged and do not fail the command: the
// events are already committed and the store is authoritative.
func (s *CommandService) Execute(ctx context.Context, cmdCtx decider.Context, cmd decider.Command) ([]event.Stored, error) {
	start := time.Now()
	ctx, span := driftotel.StartCommandSpan(ctx, cmd.AggregateType(), cmd.AggregateID(), cmdCtx.CorrelationID)
	defer span.End()

	if v, ok := cmd.(validator); ok {
		if err := v.Validate(); err != nil {
			s.countRejected(ctx)
			return nil, err
		}
	}

	d, err := s.registry.Get(cmd.AggregateType())
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		stored, err := s.attempt(ctx, cmdCtx, d, cmd, attempt)
		if err == nil {
			s.publish(ctx, stored)
			if s.metrics != nil {
				s.metrics.CommandsExecuted.Add(ctx, 1)
				s.metrics.EventsAppended.Add(ctx, int64(len(stored)))
				s.metrics.CommandDuration.Record(ctx, time.Since(start).Seconds())
			}
			return stored, nil
		}

		if !errors.Is(err, domain.ErrConflict) {
			if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrDomainRule) {
				s.countRejected(ctx)
			}
			return nil, err
		}

		if s.metrics != nil {
			s.metrics.AppendConflicts.Add(ctx, 1)
		}
		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("command on %s/%s: %d attempts exhausted: %w",
				cmd.AggregateType(), cmd.AggregateID(), attempt, domain.ErrConflict)
		}
		slog.Debug("append conflict, retrying",
			"aggregate_type", cmd.AggregateType(),
			"aggregate_id", cmd.AggregateID(),
			"attempt", attempt,
		)
	}
}

// attempt performs one load-decide-append round.
func (s *CommandService) attempt(ctx context.Context, cmdCtx decider.Context, d decider.Decider, cmd decider.Command, attempt int) ([]event.Stored, error) {
	history, err := s.store.Load(ctx, cmd.AggregateType(), cmd.AggregateID())
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", cmd.AggregateType(), cmd.AggregateID(), err)
	}

	state := decider.Fold(d, d.InitialState(), history)

	candidates, err := d.Decide(cmdCtx, cmd, state)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Sequences are gapless, so the fold length is the aggregate version.
	expectedVersion := uint64(len(history))

	ctx, span := driftotel.StartAppendSpan(ctx, cmd.AggregateType(), cmd.AggregateID(), expectedVersion, attempt)
	defer span.End()

	return s.store.Append(ctx, candidates, expectedVersion)
}

// publish fans the committed events out, fire and forget.
func (s *CommandService) publish(ctx context.Context, stored []event.Stored) {
	for _, ev := range stored {
		if err := s.bus.Publish(ctx, ev); err != nil {
			slog.Error("post-commit publish failed",
				"key", eventbus.Key(ev),
				"global_sequence", ev.GlobalSequence,
				"error", err,
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.EventsPublished.Add(ctx, 1)
		}
	}
}

func (s *CommandService) countRejected(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.CommandsRejected.Add(ctx, 1)
	}
}
