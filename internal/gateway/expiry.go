package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

const expiryBatchSize = 500

// ExpireStalePending cancels pending rows created before cutoff. Each row is
// re-checked under lock in its own transaction so one failure does not hold
// back the rest. It returns the number of rows cancelled.
func (s *Service) ExpireStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.payments.ListPendingBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending payments: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		expired int
		errs    error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, multierr.Append(errs, err)
		}
		done, err := s.expireOne(ctx, id, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire payment %d: %w", id, err))
			continue
		}
		if done {
			expired++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"expired":    expired,
		"cutoff":     cutoff.UTC().Format(time.RFC3339),
	}), "stale pending payments swept")
	return expired, errs
}

func (s *Service) expireOne(ctx context.Context, id uint64, cutoff time.Time) (bool, error) {
	done := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.payments.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if row.Status != enums.PaymentStatusPending || !row.CreatedAt.Before(cutoff) {
			return nil
		}
		now := s.now().UTC()
		row.Audit.ExpiredAt = &now
		if err := s.transition(ctx, tx, row, enums.PaymentStatusCancelled, map[string]any{}, "", reasonExpired); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}
