package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

const (
	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultWebhookEventRetention = 30 * 24 * time.Hour
	outboxMinAttempts            = 5
)

// PruneFunc deletes rows older than cutoff inside tx and returns the count.
type PruneFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// RetentionJobParams describe a table sweep.
type RetentionJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Name   string
	Window time.Duration
	Prune  PruneFunc
	Fields map[string]any
}

type retentionJob struct {
	logg   *logger.Logger
	db     txRunner
	name   string
	window time.Duration
	prune  PruneFunc
	fields map[string]any
	now    func() time.Time
}

// NewRetentionJob builds a sweep that prunes rows older than Window.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Name == "":
		return nil, fmt.Errorf("retention job name required")
	case params.Prune == nil:
		return nil, fmt.Errorf("prune func required for %s", params.Name)
	case params.Window <= 0:
		return nil, fmt.Errorf("retention window must be positive for %s", params.Name)
	}
	return &retentionJob{
		logg:   params.Logger,
		db:     params.DB,
		name:   params.Name,
		window: params.Window,
		prune:  params.Prune,
		fields: params.Fields,
		now:    time.Now,
	}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.prune(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}

	fields := map[string]any{
		"cutoff":       cutoff,
		"window":       j.window.String(),
		"rows_deleted": deleted,
	}
	for k, v := range j.fields {
		fields[k] = v
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "retention sweep complete")
	return nil
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// NewOutboxRetentionJob prunes ledger events that were published, or that
// exhausted minAttempts, before the window.
func NewOutboxRetentionJob(logg *logger.Logger, db txRunner, repo outboxPruner, window time.Duration, minAttempts int) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if window <= 0 {
		window = defaultOutboxRetention
	}
	if minAttempts <= 0 {
		minAttempts = outboxMinAttempts
	}
	return NewRetentionJob(RetentionJobParams{
		Logger: logg,
		DB:     db,
		Name:   "outbox-retention",
		Window: window,
		Prune: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return repo.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
		},
		Fields: map[string]any{"min_attempts": minAttempts},
	})
}

type webhookEventPruner interface {
	DeleteProcessedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewWebhookRetentionJob prunes processed-webhook markers. Providers stop
// redelivering long before the window elapses.
func NewWebhookRetentionJob(logg *logger.Logger, db txRunner, repo webhookEventPruner, window time.Duration) (Job, error) {
	if repo == nil {
		return nil, fmt.Errorf("processed events repository required")
	}
	if window <= 0 {
		window = defaultWebhookEventRetention
	}
	return NewRetentionJob(RetentionJobParams{
		Logger: logg,
		DB:     db,
		Name:   "webhook-event-retention",
		Window: window,
		Prune:  repo.DeleteProcessedBefore,
	})
}
