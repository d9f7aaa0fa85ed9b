package outbox

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// DLQRepository parks ledger events the relay has given up on, so operators
// can inspect and replay them.
type DLQRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db, now: time.Now}
}

// Park copies event into outbox_dlq inside tx.
func (r *DLQRepository) Park(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !reason.IsValid() {
		return fmt.Errorf("invalid dead-letter reason %q", reason)
	}
	msg := ""
	if cause != nil {
		msg = truncateError(cause)
	}
	row := event.DeadLetter(reason, msg, r.now().UTC())
	return tx.Create(&row).Error
}

// ForAggregate returns dead letters for one ledger aggregate, newest first.
func (r *DLQRepository) ForAggregate(tx *gorm.DB, aggregateID string) ([]models.OutboxDLQ, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []models.OutboxDLQ
	err := tx.Where("aggregate_id = ?", aggregateID).
		Order("failed_at DESC").
		Find(&rows).Error
	return rows, err
}
