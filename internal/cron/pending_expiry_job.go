package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

const defaultPendingPaymentTTL = 24 * time.Hour

type PendingExpiryJobParams struct {
	Logger  *logger.Logger
	Expirer pendingExpirer
	TTL     time.Duration
}

// pendingExpirer fails gateway rows that never received a webhook.
type pendingExpirer interface {
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int, error)
}

// NewPendingExpiryJob builds the sweep that marks abandoned pending gateway
// payments failed once they are older than ttl.
func NewPendingExpiryJob(params PendingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("pending payment expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingPaymentTTL
	}
	return &pendingExpiryJob{
		logg:    params.Logger,
		expirer: params.Expirer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

type pendingExpiryJob struct {
	logg    *logger.Logger
	expirer pendingExpirer
	ttl     time.Duration
	now     func() time.Time
}

func (j *pendingExpiryJob) Name() string { return "pending-payment-expiry" }

func (j *pendingExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.expirer.ExpireStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
	})
	j.logg.Info(logCtx, "pending payment expiry complete")
	return nil
}
