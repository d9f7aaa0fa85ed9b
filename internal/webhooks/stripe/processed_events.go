package stripewebhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
)

// ProviderStripe tags events delivered by Stripe.
const ProviderStripe = "stripe"

// ProcessedEventRepository stores the durable set of applied webhook events.
type ProcessedEventRepository struct {
	db *gorm.DB
}

// NewProcessedEventRepository binds a GORM DB to the processed-events table.
func NewProcessedEventRepository(db *gorm.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// MarkProcessed records the event inside tx. It reports false when the event
// was already recorded, in which case the caller must not apply it again.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, provider, eventID, eventType string, at time.Time) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	row := models.ProcessedWebhookEvent{
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: at.UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteProcessedBefore prunes markers older than cutoff.
func (r *ProcessedEventRepository) DeleteProcessedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db.WithContext(ctx)
	}
	res := conn.Where("processed_at < ?", cutoff.UTC()).Delete(&models.ProcessedWebhookEvent{})
	return res.RowsAffected, res.Error
}
