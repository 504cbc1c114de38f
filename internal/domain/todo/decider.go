package todo

import (
	"encoding/json"
	"fmt"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/decider"
	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// State is the in-memory todo state reconstructed by folding events.
// The zero value is the distinguished "not yet created" state.
type State struct {
	Exists    bool
	Title     string
	Priority  string
	Completed bool
	Archived  bool
}

// Decider implements decider.Decider for the todo aggregate.
//
// Rejection policy per command:
//   - Create / Rename / Reopen / Archive: violated preconditions return
//     domain.ErrDomainRule.
//   - Complete on an archived todo: emits todo.completion_rejected instead of
//     failing; the rejection is a fact worth auditing.
//   - Commands whose outcome is already true (Complete on completed, Archive
//     on archived, Rename to the same title) produce no events.
type Decider struct{}

// NewDecider returns the todo decider.
func NewDecider() Decider { return Decider{} }

func (Decider) AggregateType() string { return AggregateType }

func (Decider) InitialState() any { return State{} }

// Decide produces candidate events for the command against the given state.
func (d Decider) Decide(ctx decider.Context, cmd decider.Command, state any) ([]event.Domain, error) {
	s, ok := state.(State)
	if !ok {
		return nil, fmt.Errorf("todo decider: unexpected state type %T", state)
	}

	switch c := cmd.(type) {
	case Create:
		if s.Exists {
			return nil, domain.Rulef("todo %s already exists", c.ID)
		}
		priority := c.Priority
		if priority == "" {
			priority = PriorityNormal
		}
		return []event.Domain{newEvent(ctx, c.ID, EventCreated, CreatedSchemaVersion,
			mustMarshal(CreatedPayload{Title: c.Title, Priority: priority}))}, nil

	case Rename:
		if err := requireActive(s, c.ID); err != nil {
			return nil, err
		}
		if s.Title == c.Title {
			return nil, nil
		}
		return []event.Domain{newEvent(ctx, c.ID, EventRenamed, 1,
			mustMarshal(RenamedPayload{Title: c.Title}))}, nil

	case Complete:
		if !s.Exists {
			return nil, domain.Rulef("todo %s does not exist", c.ID)
		}
		if s.Archived {
			return []event.Domain{newEvent(ctx, c.ID, EventCompletionRejected, 1,
				mustMarshal(CompletionRejectedPayload{Reason: "todo is archived"}))}, nil
		}
		if s.Completed {
			return nil, nil
		}
		return []event.Domain{newEvent(ctx, c.ID, EventCompleted, 1, nil)}, nil

	case Reopen:
		if err := requireActive(s, c.ID); err != nil {
			return nil, err
		}
		if !s.Completed {
			return nil, nil
		}
		return []event.Domain{newEvent(ctx, c.ID, EventReopened, 1, nil)}, nil

	case Archive:
		if !s.Exists {
			return nil, domain.Rulef("todo %s does not exist", c.ID)
		}
		if s.Archived {
			return nil, nil
		}
		return []event.Domain{newEvent(ctx, c.ID, EventArchived, 1, nil)}, nil

	default:
		return nil, domain.Validationf("unknown todo command %T", cmd)
	}
}

// Evolve folds one event into the state. It is total: unknown event types and
// pure-audit events leave the state unchanged.
func (Decider) Evolve(state any, ev event.Domain) any {
	s, ok := state.(State)
	if !ok {
		return state
	}

	switch ev.Type {
	case EventCreated:
		var p CreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return s
		}
		return State{Exists: true, Title: p.Title, Priority: p.Priority}
	case EventRenamed:
		var p RenamedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return s
		}
		s.Title = p.Title
		return s
	case EventCompleted:
		s.Completed = true
		return s
	case EventReopened:
		s.Completed = false
		return s
	case EventArchived:
		s.Archived = true
		return s
	default:
		return s
	}
}

func requireActive(s State, id string) error {
	if !s.Exists {
		return domain.Rulef("todo %s does not exist", id)
	}
	if s.Archived {
		return domain.Rulef("todo %s is archived", id)
	}
	return nil
}

func newEvent(ctx decider.Context, id, eventType string, version int, payload json.RawMessage) event.Domain {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return event.Domain{
		AggregateType: AggregateType,
		AggregateID:   id,
		Type:          eventType,
		Version:       version,
		Payload:       payload,
		Metadata:      event.Metadata{CorrelationID: ctx.CorrelationID},
		CreatedAt:     ctx.Now,
	}
}
