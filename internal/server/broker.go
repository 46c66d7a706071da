package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/bus"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Broker fans out healing events to SSE subscribers. It runs a single
// bus subscription and copies each event to all active subscriber
// channels.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan model.Event]struct{}
}

// NewBroker creates an SSE broker. Call Start to begin consuming.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan model.Event]struct{}),
	}
}

// Start consumes the subscription until ctx is cancelled or the bus
// closes. It blocks, so call it in a goroutine.
func (b *Broker) Start(ctx context.Context, sub *bus.Subscription) {
	b.logger.Info("broker: streaming healing events")
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		b.broadcast(ev)
	}
}

// Subscribe returns a channel that receives events. The caller must
// call Unsubscribe when done.
func (b *Broker) Subscribe() chan model.Event {
	ch := make(chan model.Event, 64) // Buffer so the broadcast loop never blocks.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan model.Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. A subscriber with a
// full buffer is skipped so one slow client cannot stall the others.
func (b *Broker) broadcast(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// formatSSE formats an event payload as a Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
