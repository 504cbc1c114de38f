// Package membus implements the event bus port in-process, for the
// single-binary template mode and for deterministic tests. Delivery order per
// subscriber follows publish order, which for one aggregate is
// aggregate-sequence order.
package membus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
)

// defaultBuffer is the per-subscription channel capacity.
const defaultBuffer = 256

// Bus fans events out to pattern-matched subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer overrides the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) { b.buffer = n }
}

// New creates an in-process bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[*subscription]struct{}),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every subscription whose pattern matches its key.
// A subscriber whose buffer is full loses the event: the bus is best-effort
// and consumers recover through their store cursor. Drops are logged.
func (b *Bus) Publish(_ context.Context, ev event.Stored) error {
	key := eventbus.Key(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	for sub := range b.subs {
		if !eventbus.Match(sub.pattern, key) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			slog.Warn("membus subscriber overflow, event dropped",
				"pattern", sub.pattern,
				"key", key,
				"dropped", sub.dropped.Load(),
			)
		}
	}
	return nil
}

// Subscribe registers a buffered delivery channel for the pattern.
func (b *Bus) Subscribe(_ context.Context, pattern string) (eventbus.Subscription, error) {
	sub := &subscription{
		bus:     b,
		pattern: pattern,
		ch:      make(chan event.Stored, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close tears down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
	return nil
}

type subscription struct {
	bus     *Bus
	pattern string
	ch      chan event.Stored
	once    sync.Once
	dropped atomic.Int64
}

func (s *subscription) Events() <-chan event.Stored { return s.ch }

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.close()
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}
