package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	driftotel "github.com/tidewater-labs/driftline/internal/adapter/otel"
	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
)

// DefaultKeepAlive is the idle keep-alive interval of a streaming session.
const DefaultKeepAlive = 15 * time.Second

// Frame is one unit of streaming output. Either Comment is set (keep-alive)
// or Event/ID/Data describe an event frame.
type Frame struct {
	ID      uint64
	Event   string
	Data    []byte
	Comment string
}

// Frame event names on the wire.
const (
	FrameEventMessage = "message"
	FrameEventResync  = "resync"
)

// Sink receives the frames of one session, in order. Send errors end the
// session (the client is gone).
type Sink interface {
	Send(frame Frame) error
}

// StreamRequest describes one client connection.
type StreamRequest struct {
	// Pattern scopes the subscription; eventbus.PatternAll() for everything.
	Pattern string
	// Cursor is the client's last seen global sequence. Zero with Resume
	// false means "from the beginning".
	Cursor uint64
	// Resume is true when the client supplied an explicit cursor.
	Resume bool
}

// resyncPayload is the in-band signal that the client's cursor predates the
// earliest retained event and a full reload is required.
type resyncPayload struct {
	Reason         string `json:"reason"`
	EarliestGlobal uint64 `json:"earliest_global_sequence"`
	LatestGlobal   uint64 `json:"latest_global_sequence"`
}

// Streamer runs reconnection-safe streaming sessions over the store and bus.
// The server holds no per-client retry state: all resumability lives in the
// client-supplied cursor and the store's global order.
type Streamer struct {
	store     eventstore.Store
	bus       eventbus.Bus
	keepAlive time.Duration
	metrics   *driftotel.Metrics
}

// NewStreamer creates a Streamer.
func NewStreamer(store eventstore.Store, bus eventbus.Bus, keepAlive time.Duration) *Streamer {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Streamer{store: store, bus: bus, keepAlive: keepAlive}
}

// SetMetrics attaches metric instruments.
func (s *Streamer) SetMetrics(m *driftotel.Metrics) {
	s.metrics = m
}

// Run executes one session until the context is cancelled or the sink fails.
//
// The protocol is subscribe-before-replay: the bus subscription is
// established strictly before the historical query executes, so an event
// committed in between is either part of the query result or buffered on the
// subscription; the merge dedupes by global sequence. Reversing the order
// would lose such an event permanently.
func (s *Streamer) Run(ctx context.Context, req StreamRequest, sink Sink) error {
	if s.metrics != nil {
		s.metrics.StreamSessions.Add(ctx, 1)
		defer s.metrics.StreamSessions.Add(ctx, -1)
	}

	sub, err := s.bus.Subscribe(ctx, req.Pattern)
	if err != nil {
		return fmt.Errorf("stream subscribe %s: %w", req.Pattern, err)
	}
	defer sub.Unsubscribe()

	lastSent, err := s.replay(ctx, req, sink)
	if err != nil {
		return err
	}

	return s.live(ctx, req, sub, sink, lastSent)
}

// replay sends the historical tail and returns the highest global sequence
// sent so far. A stale cursor short-circuits into a resync frame: the client
// restarts from current state instead of receiving a silently truncated
// replay.
func (s *Streamer) replay(ctx context.Context, req StreamRequest, sink Sink) (uint64, error) {
	ctx, span := driftotel.StartReplaySpan(ctx, "stream", req.Cursor)
	defer span.End()

	if req.Resume && req.Cursor > 0 {
		earliest, err := s.store.EarliestGlobalSequence(ctx)
		if err != nil {
			return 0, fmt.Errorf("stream earliest: %w", err)
		}
		// The replay resumes at Cursor+1; anything older than the earliest
		// retained event is gone.
		if earliest > req.Cursor+1 {
			latest, err := s.store.LatestGlobalSequence(ctx)
			if err != nil {
				return 0, fmt.Errorf("stream latest: %w", err)
			}
			data, err := json.Marshal(resyncPayload{
				Reason:         "cursor predates earliest retained event",
				EarliestGlobal: earliest,
				LatestGlobal:   latest,
			})
			if err != nil {
				return 0, err
			}
			if err := sink.Send(Frame{ID: latest, Event: FrameEventResync, Data: data}); err != nil {
				return 0, err
			}
			// Go live from the present; the client reloads read models itself.
			return latest, nil
		}
	}

	history, err := s.store.QuerySince(ctx, req.Cursor)
	if err != nil {
		return 0, fmt.Errorf("stream replay since %d: %w", req.Cursor, err)
	}

	lastSent := req.Cursor
	for _, ev := range history {
		if !eventbus.Match(req.Pattern, eventbus.Key(ev)) {
			lastSent = ev.GlobalSequence
			continue
		}
		if err := s.sendEvent(sink, ev); err != nil {
			return 0, err
		}
		lastSent = ev.GlobalSequence
	}
	return lastSent, nil
}

// live merges the buffered-and-ongoing subscription with keep-alives until
// the client disconnects.
func (s *Streamer) live(ctx context.Context, req StreamRequest, sub eventbus.Subscription, sink Sink, lastSent uint64) error {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sink.Send(Frame{Comment: "ping"}); err != nil {
				return err
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			// Dedupe the replay/live overlap.
			if ev.GlobalSequence <= lastSent {
				continue
			}
			// A jump on an unscoped stream means the best-effort bus dropped
			// an event; backfill from the store. Scoped streams skip foreign
			// sequence numbers by construction, which is not a gap.
			if req.Pattern == eventbus.PatternAll() && ev.GlobalSequence > lastSent+1 {
				var err error
				lastSent, err = s.backfill(ctx, sink, lastSent, ev.GlobalSequence)
				if err != nil {
					return err
				}
				if ev.GlobalSequence <= lastSent {
					continue
				}
			}
			if err := s.sendEvent(sink, ev); err != nil {
				return err
			}
			lastSent = ev.GlobalSequence
			ticker.Reset(s.keepAlive)
		}
	}
}

// backfill replays the store between lastSent and before, exclusive on both
// ends of what was already delivered.
func (s *Streamer) backfill(ctx context.Context, sink Sink, lastSent, before uint64) (uint64, error) {
	slog.Warn("stream gap detected, backfilling from store",
		"after", lastSent,
		"before", before,
	)
	missed, err := s.store.QuerySince(ctx, lastSent)
	if err != nil {
		return lastSent, fmt.Errorf("stream backfill since %d: %w", lastSent, err)
	}
	for _, ev := range missed {
		if ev.GlobalSequence >= before {
			break
		}
		if err := s.sendEvent(sink, ev); err != nil {
			return lastSent, err
		}
		lastSent = ev.GlobalSequence
	}
	return lastSent, nil
}

func (s *Streamer) sendEvent(sink Sink, ev event.Stored) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream envelope: %w", err)
	}
	return sink.Send(Frame{ID: ev.GlobalSequence, Event: FrameEventMessage, Data: data})
}
