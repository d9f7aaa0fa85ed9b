package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
)

var (
	// ErrQueueFull is returned when the dispatcher cannot accept more events.
	// The webhook endpoint answers 503 so Stripe redelivers later.
	ErrQueueFull = errors.New("webhook queue full")
	// ErrDispatcherClosed is returned once Shutdown has begun.
	ErrDispatcherClosed = errors.New("webhook dispatcher closed")
)

// EventHandler applies a single verified event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (string, error)
}

type DispatcherParams struct {
	Logger         *logger.Logger
	Handler        EventHandler
	Metrics        *metrics.WebhookMetrics
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

// Dispatcher decouples the webhook acknowledgement from ledger processing.
// Events are queued after signature verification and applied by a fixed
// pool of workers.
type Dispatcher struct {
	logg    *logger.Logger
	handler EventHandler
	metrics *metrics.WebhookMetrics
	workers int
	timeout time.Duration

	queue   chan queuedEvent
	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	wg      sync.WaitGroup
}

type queuedEvent struct {
	event    *stripe.Event
	fields   map[string]any
	received time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event handler required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	size := params.QueueSize
	if size <= 0 {
		size = 64
	}
	timeout := params.ProcessTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		logg:    params.Logger,
		handler: params.Handler,
		metrics: params.Metrics,
		workers: workers,
		timeout: timeout,
		queue:   make(chan queuedEvent, size),
	}, nil
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
}

// Enqueue hands the event to the pool without blocking. Request-scoped log
// fields carried by ctx are copied onto the queued event; the request
// context itself is not retained.
func (d *Dispatcher) Enqueue(ctx context.Context, event *stripe.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	item := queuedEvent{event: event, received: time.Now()}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		item.fields = map[string]any{"request_id": id}
	}
	select {
	case d.queue <- item:
		d.metrics.QueueDepth(len(d.queue))
		return nil
	default:
		d.metrics.Observe(string(event.Type), metrics.WebhookOutcomeDropped, 0)
		return ErrQueueFull
	}
}

// Shutdown stops accepting events and waits for queued ones to drain, or
// for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	if !d.started.Load() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain webhook queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(worker int) {
	defer d.wg.Done()
	for item := range d.queue {
		d.metrics.QueueDepth(len(d.queue))
		d.process(worker, item)
	}
}

func (d *Dispatcher) process(worker int, item queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	fields := map[string]any{
		"worker":            worker,
		"stripe_event_id":   item.event.ID,
		"stripe_event_type": string(item.event.Type),
	}
	for k, v := range item.fields {
		fields[k] = v
	}
	ctx = d.logg.WithFields(ctx, fields)

	outcome := metrics.WebhookOutcomeFailed
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logg.Error(ctx, "stripe webhook handler panicked", fmt.Errorf("panic: %v", r))
			outcome = metrics.WebhookOutcomeFailed
		}
		d.metrics.Observe(string(item.event.Type), outcome, time.Since(start))
	}()

	got, err := d.handler.HandleEvent(ctx, item.event)
	if err != nil {
		d.logg.Error(ctx, "stripe webhook processing failed", err)
		return
	}
	outcome = got
}

type requestIDKey struct{}

// WithRequestID tags ctx with the inbound request id so queued processing
// logs can be correlated with the HTTP delivery.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}
