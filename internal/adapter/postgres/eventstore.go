package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/event"
)

// querySincePageSize bounds each page of a global-order scan.
const querySincePageSize = 500

// EventStore implements eventstore.Store using PostgreSQL (append-only).
// The UNIQUE constraint on (aggregate_type, aggregate_id, aggregate_sequence)
// is the optimistic lock: of N writers racing for the same sequence slot,
// exactly one insert commits and the rest surface domain.ErrConflict.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append persists the events for one aggregate in a single transaction,
// assigning aggregate sequences expectedVersion+1.. and fresh global sequences.
func (s *EventStore) Append(ctx context.Context, events []event.Domain, expectedVersion uint64) ([]event.Stored, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stored := make([]event.Stored, 0, len(events))
	seq := expectedVersion
	for _, ev := range events {
		seq++
		var global uint64
		err := tx.QueryRow(ctx,
			`INSERT INTO events (aggregate_type, aggregate_id, aggregate_sequence, event_type, event_version, payload, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING global_sequence`,
			ev.AggregateType, ev.AggregateID, seq, ev.Type, ev.Version, ev.Payload, ev.Metadata, ev.CreatedAt,
		).Scan(&global)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("append %s/%s at version %d: %w",
					ev.AggregateType, ev.AggregateID, seq, domain.ErrConflict)
			}
			return nil, fmt.Errorf("append event: %w", err)
		}
		stored = append(stored, event.Stored{
			Domain:            ev,
			AggregateSequence: seq,
			GlobalSequence:    global,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return stored, nil
}

// eventColumns is the SELECT column list for events queries.
const eventColumns = `aggregate_type, aggregate_id, aggregate_sequence, event_type, event_version, payload, metadata, created_at, global_sequence`

// scanEvent scans a row into a Stored event.
func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.Stored) error {
	return scanner.Scan(
		&ev.AggregateType, &ev.AggregateID, &ev.AggregateSequence,
		&ev.Type, &ev.Version, &ev.Payload, &ev.Metadata,
		&ev.CreatedAt, &ev.GlobalSequence,
	)
}

// Load returns all events of one aggregate in aggregate-sequence order.
// An empty result means the aggregate does not exist yet.
func (s *EventStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]event.Stored, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY aggregate_sequence ASC`, eventColumns),
		aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggregateType, aggregateID, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// QuerySince returns all events with a global sequence strictly greater than
// globalSeq, in global order. Pages internally so a cold rebuild does not pin
// one huge result set.
func (s *EventStore) QuerySince(ctx context.Context, globalSeq uint64) ([]event.Stored, error) {
	var all []event.Stored
	cursor := globalSeq
	for {
		rows, err := s.pool.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM events WHERE global_sequence > $1 ORDER BY global_sequence ASC LIMIT $2`, eventColumns),
			cursor, querySincePageSize)
		if err != nil {
			return nil, fmt.Errorf("query since %d: %w", cursor, err)
		}

		page, err := collectEvents(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}

		all = append(all, page...)
		cursor = page[len(page)-1].GlobalSequence
		if len(page) < querySincePageSize {
			return all, nil
		}
	}
}

// EarliestGlobalSequence returns the smallest global sequence in the store,
// or 0 when empty.
func (s *EventStore) EarliestGlobalSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MIN(global_sequence), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("earliest global sequence: %w", err)
	}
	return seq, nil
}

// LatestGlobalSequence returns the largest global sequence in the store,
// or 0 when empty.
func (s *EventStore) LatestGlobalSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(global_sequence), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest global sequence: %w", err)
	}
	return seq, nil
}

func collectEvents(rows pgx.Rows) ([]event.Stored, error) {
	var events []event.Stored
	for rows.Next() {
		var ev event.Stored
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
