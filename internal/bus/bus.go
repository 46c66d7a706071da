// Package bus implements the in-memory ordered event log that drives the
// healing workflow. Every state change is an event; consumers observe the
// log through independent cursors and never block publishers.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// ErrClosed is returned by Publish and Next after the bus shuts down.
var ErrClosed = errors.New("bus: closed")

// DefaultRetention is the number of events kept in memory for late
// subscribers and trace replays.
const DefaultRetention = 4096

// Bus is an append-only, totally ordered event log with fanout.
// Publish assigns each event a strictly increasing sequence number;
// subscribers read at their own pace through cursors. When a slow
// subscriber falls behind the retention window its cursor jumps
// forward and the gap is counted as dropped.
type Bus struct {
	logger *slog.Logger
	retain int

	mu       sync.Mutex
	closed   bool
	events   []model.Event
	firstSeq int64 // sequence number of events[0]
	nextSeq  int64
	subs     map[*Subscription]struct{}

	published int64
	dropped   int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithRetention overrides the retained event count.
func WithRetention(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.retain = n
		}
	}
}

// New creates an event bus. The logger must not be nil.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:   logger,
		retain:   DefaultRetention,
		firstSeq: 1,
		nextSeq:  1,
		subs:     make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps the event with an ID, sequence number and timestamp,
// appends it to the log and wakes subscribers. It never blocks on
// consumers. Returns the stamped event.
func (b *Bus) Publish(ev model.Event) (model.Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return model.Event{}, ErrClosed
	}

	ev.ID = uuid.New()
	ev.SequenceNum = b.nextSeq
	ev.OccurredAt = time.Now().UTC()
	b.nextSeq++

	b.events = append(b.events, ev)
	b.published++
	if len(b.events) > b.retain {
		trim := len(b.events) - b.retain
		b.events = b.events[trim:]
		b.firstSeq += int64(trim)
	}

	for sub := range b.subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	b.logger.Debug("bus: published",
		"type", ev.Type, "trace_id", ev.TraceID, "seq", ev.SequenceNum)
	return ev, nil
}

// Subscription is an independent cursor over the event log. Events are
// delivered in publication order; Next blocks until an event matching
// the subscription's filters is available.
type Subscription struct {
	bus     *Bus
	cursor  int64
	types   map[model.EventType]struct{}
	traceID string
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithTypes restricts delivery to the given event types.
func WithTypes(types ...model.EventType) SubscribeOption {
	return func(s *Subscription) {
		s.types = make(map[model.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// WithTrace restricts delivery to events for one trace.
func WithTrace(traceID string) SubscribeOption {
	return func(s *Subscription) { s.traceID = traceID }
}

// FromStart positions the cursor at the oldest retained event instead
// of the tail.
func FromStart() SubscribeOption {
	return func(s *Subscription) { s.cursor = -1 }
}

// Subscribe registers a new cursor. By default it starts at the tail,
// seeing only events published after the call. Close the subscription
// when done.
func (b *Bus) Subscribe(opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		bus:    b,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	if s.cursor == -1 {
		s.cursor = b.firstSeq
	} else {
		s.cursor = b.nextSeq
	}
	if !b.closed {
		b.subs[s] = struct{}{}
	} else {
		close(s.done)
	}
	b.mu.Unlock()
	return s
}

// Close removes the subscription from the bus. Pending Next calls
// return ErrClosed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

// Next returns the next matching event, blocking until one is
// published, the context is cancelled, or the subscription closes.
func (s *Subscription) Next(ctx context.Context) (model.Event, error) {
	for {
		ev, ok := s.poll()
		if ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		case <-s.done:
			return model.Event{}, ErrClosed
		case <-s.notify:
		}
	}
}

// poll scans forward from the cursor for the next matching retained
// event, advancing past non-matching ones.
func (s *Subscription) poll() (model.Event, bool) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.cursor < b.firstSeq {
		// Fell behind the retention window.
		missed := b.firstSeq - s.cursor
		b.dropped += missed
		b.logger.Warn("bus: subscriber fell behind, skipping", "missed", missed)
		s.cursor = b.firstSeq
	}

	for s.cursor < b.nextSeq {
		ev := b.events[s.cursor-b.firstSeq]
		s.cursor++
		if s.matches(ev) {
			return ev, true
		}
	}
	return model.Event{}, false
}

func (s *Subscription) matches(ev model.Event) bool {
	if s.traceID != "" && ev.TraceID != s.traceID {
		return false
	}
	if s.types != nil {
		if _, ok := s.types[ev.Type]; !ok {
			return false
		}
	}
	return true
}

// TraceEvents returns a snapshot of all retained events for a trace,
// in publication order.
func (b *Bus) TraceEvents(traceID string) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Event
	for _, ev := range b.events {
		if ev.TraceID == traceID {
			out = append(out, ev)
		}
	}
	return out
}

// Events returns a snapshot of the full retained log.
func (b *Bus) Events() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Close shuts down the bus. Subsequent Publish calls fail with
// ErrClosed; blocked Next calls on registered subscriptions return
// ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// RegisterMetrics registers observable gauges for bus health.
func (b *Bus) RegisterMetrics() error {
	meter := otel.GetMeterProvider().Meter("selfheal/bus")

	subscribers, err := meter.Int64ObservableGauge("selfheal.bus.subscribers",
		otelmetric.WithDescription("Active bus subscriptions"))
	if err != nil {
		return err
	}
	retained, err := meter.Int64ObservableGauge("selfheal.bus.retained_events",
		otelmetric.WithDescription("Events currently held in the retention window"))
	if err != nil {
		return err
	}
	published, err := meter.Int64ObservableCounter("selfheal.bus.published_total",
		otelmetric.WithDescription("Total events published"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64ObservableCounter("selfheal.bus.dropped_total",
		otelmetric.WithDescription("Events skipped by lagging subscribers"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		o.ObserveInt64(subscribers, int64(len(b.subs)))
		o.ObserveInt64(retained, int64(len(b.events)))
		o.ObserveInt64(published, b.published)
		o.ObserveInt64(dropped, b.dropped)
		return nil
	}, subscribers, retained, published, dropped)
	return err
}
