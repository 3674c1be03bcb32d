// Package notify delivers pipeline outcomes to external sinks: customer
// email, a signed generic webhook, a Slack-style incoming webhook, and an
// optional Telegram channel. Delivery is best-effort; failures are
// logged and swallowed, never surfaced to the pipeline.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/models"
)

const (
	EventTicketCreated  = "ticket.created"
	EventResponseSent   = "response.sent"
	EventReviewRequired = "response.review_required"
)

// Event is the outcome published after the pipeline commits.
type Event struct {
	Type      string             `json:"event"`
	Timestamp time.Time          `json:"timestamp"`
	Ticket    *models.Ticket     `json:"ticket,omitempty"`
	Response  *models.AIResponse `json:"ai_response,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Wants(eventType string) bool
	Deliver(ctx context.Context, event Event) error
}

type job struct {
	sink  Sink
	event Event
}

// Dispatcher fans events out to sinks through a bounded worker pool, so
// delivery is off the caller's critical path but still observable in
// tests via Close.
type Dispatcher struct {
	sinks   []Sink
	jobs    chan job
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatcher(sinks []Sink, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		sinks:   sinks,
		jobs:    make(chan job, workers*8),
		timeout: 15 * time.Second,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := j.sink.Deliver(ctx, j.event); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("sink", j.sink.Name()),
				zap.String("event", j.event.Type),
				zap.Error(err))
		}
		cancel()
	}
}

// Dispatch enqueues the event for every interested sink. It never blocks
// the caller: if the queue is full the delivery is dropped and logged.
func (d *Dispatcher) Dispatch(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, sink := range d.sinks {
		if !sink.Wants(event.Type) {
			continue
		}
		select {
		case d.jobs <- job{sink: sink, event: event}:
		default:
			d.logger.Warn("Notification queue full, dropping delivery",
				zap.String("sink", sink.Name()),
				zap.String("event", event.Type))
		}
	}
}

// Close stops accepting work and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

// subscription filters event types per sink; an empty set means all.
type subscription map[string]struct{}

func newSubscription(events []string) subscription {
	if len(events) == 0 {
		return nil
	}
	s := make(subscription, len(events))
	for _, e := range events {
		s[e] = struct{}{}
	}
	return s
}

func (s subscription) wants(eventType string) bool {
	if s == nil {
		return true
	}
	_, ok := s[eventType]
	return ok
}
