// Package events publishes domain events for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/logging"
)

const (
	OrderCreated        = "order.created"
	OrderCancelled      = "order.cancelled"
	PaymentUnreconciled = "payment.unreconciled"
	CartClearFailed     = "cart.clear_failed"
)

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{ log *zap.Logger }

func NewLogPublisher(l *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logging.OrNop(l).Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("event", zap.String("type", ev.Type), zap.String("key", ev.Key), zap.Any("payload", ev.Payload))
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
