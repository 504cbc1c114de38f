// Package nats implements the event bus port using core NATS publish/subscribe.
//
// Subjects are the bus key expressions (driftline.{type}.{id}.{sequence});
// wildcard scoping is handled server-side with the same `*` and `>` semantics
// as the in-process bus. Core NATS (not JetStream) is a deliberate fit: the
// bus is best-effort post-commit notification and the store is the durable
// source of truth, so at-most-once transport is enough.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/resilience"
)

// subscriptionBuffer is the per-subscription delivery channel capacity.
const subscriptionBuffer = 256

// Bus implements eventbus.Bus over a shared NATS connection.
type Bus struct {
	nc      *nats.Conn
	breaker *resilience.Breaker
}

// Connect establishes a connection to NATS.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Bus{
		nc:      nc,
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}, nil
}

// Publish sends the serialized event envelope to its subject. The circuit
// breaker keeps a dead broker from stalling every command handler; a rejected
// or failed publish is reported to the caller, which logs and moves on.
func (b *Bus) Publish(_ context.Context, ev event.Stored) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	subject := eventbus.Key(ev)
	return b.breaker.Execute(func() error {
		if err := b.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	})
}

// Subscribe registers a channel-backed subscription for the pattern.
func (b *Bus) Subscribe(_ context.Context, pattern string) (eventbus.Subscription, error) {
	sub := &subscription{ch: make(chan event.Stored, subscriptionBuffer)}

	natsSub, err := b.nc.Subscribe(pattern, func(msg *nats.Msg) {
		var ev event.Stored
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("nats message decode failed", "subject", msg.Subject, "error", err)
			return
		}
		sub.deliver(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}

	sub.natsSub = natsSub
	return sub, nil
}

// Close drains and shuts down the NATS connection.
func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

type subscription struct {
	natsSub *nats.Subscription
	ch      chan event.Stored
	mu      sync.Mutex
	closed  bool
}

func (s *subscription) Events() <-chan event.Stored { return s.ch }

// deliver forwards an event unless the subscriber buffer is full. The bus is
// best-effort; consumers recover missed events through their store cursor.
func (s *subscription) deliver(ev event.Stored) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		slog.Warn("nats subscriber overflow, event dropped",
			"subject", s.natsSub.Subject,
			"global_sequence", ev.GlobalSequence,
		)
	}
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err := s.natsSub.Unsubscribe(); err != nil {
		slog.Error("nats unsubscribe failed", "error", err)
	}
	close(s.ch)
}
