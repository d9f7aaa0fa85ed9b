package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
)

type database interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	Park(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
}

type eventResolver interface {
	Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// RelayParams wire the outbox relay.
type RelayParams struct {
	Settings config.OutboxConfig
	Logger   *logger.Logger
	DB       database
	Outbox   outboxStore
	DLQ      deadLetters
	Registry eventResolver
	Topics   topicSource
	Metrics  *metrics.OutboxMetrics
}

// Relay moves committed ledger events from outbox_events to Pub/Sub. Rows are
// claimed with SKIP LOCKED so several relays can share the table.
type Relay struct {
	logg        *logger.Logger
	db          database
	outbox      outboxStore
	dlq         deadLetters
	registry    eventResolver
	topics      topicSource
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        *poller
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dead-letter repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Topics == nil:
		return nil, errors.New("topic source is required")
	}

	interval := time.Duration(params.Settings.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultPollInterval
	}
	r := &Relay{
		logg:        params.Logger,
		db:          params.DB,
		outbox:      params.Outbox,
		dlq:         params.DLQ,
		registry:    params.Registry,
		topics:      params.Topics,
		metrics:     params.Metrics,
		batchSize:   params.Settings.BatchSize,
		maxAttempts: params.Settings.MaxAttempts,
		poll:        newPoller(interval, maxIdleBackoff),
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	return r, nil
}

// Run drains the outbox until ctx is canceled. It refuses to start when the
// database or Pub/Sub is unreachable.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not ready: %w", err)
	}

	for {
		n, err := r.drain(ctx)
		if err != nil {
			r.logg.Error(ctx, "outbox batch failed", err)
		} else {
			r.poll.reset()
			if n == r.batchSize {
				continue
			}
		}
		if err := r.poll.wait(ctx, err != nil); err != nil {
			return err
		}
	}
}

// drain claims one batch and settles every row in it. It returns how many
// rows were claimed.
func (r *Relay) drain(ctx context.Context) (int, error) {
	var claimed int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(events)
		r.metrics.Batch(claimed)
		for _, event := range events {
			if err := r.settle(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// settle publishes one row and records the outcome. Only bookkeeping errors
// are returned; publish failures are recorded on the row.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	logCtx := r.logg.WithFields(ctx, eventFields(event))

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"topic":    resolved.Descriptor.Topic,
		"event_id": resolved.Envelope.EventID,
	})

	if err := r.publish(ctx, event, resolved); err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
		}
		if event.FinalAttempt(r.maxAttempts) {
			event.AttemptCount++
			return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
				fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount, err))
		}
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed, will retry")
		r.metrics.Event(string(event.EventType), metrics.OutboxRetried)
		if err := r.outbox.MarkFailedTx(tx, event.ID, err); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
		return nil
	}

	if err := r.outbox.MarkPublishedTx(tx, event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	r.metrics.Event(string(event.EventType), metrics.OutboxPublished)
	r.logg.Info(logCtx, "outbox event published")
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event dead-lettered")
	if err := r.dlq.Park(tx, event, reason, cause); err != nil {
		return fmt.Errorf("park %s: %w", event.ID, err)
	}
	if err := r.outbox.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.Event(string(event.EventType), metrics.OutboxDeadLettered)
	return nil
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
