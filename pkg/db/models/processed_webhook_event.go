package models

import "time"

// ProcessedWebhookEvent marks a provider event as applied. The
// (provider, event_id) pair is unique.
type ProcessedWebhookEvent struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Provider    string    `gorm:"column:provider;not null"`
	EventID     string    `gorm:"column:event_id;not null"`
	EventType   string    `gorm:"column:event_type;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null"`
}
