// Package outbox stores ledger events in the same transaction as the ledger
// write that caused them, for the relay to publish later.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// EnvelopeVersion is written into every stored payload.
const EnvelopeVersion = 1

// ActorRef identifies who produced the event. Webhooks and sweeps carry a
// System name instead of an employee.
type ActorRef struct {
	EmployeeID *uint64 `json:"employeeId,omitempty"`
	Role       string  `json:"role,omitempty"`
	System     string  `json:"system,omitempty"`
}

func EmployeeActor(employeeID uint64, role string) *ActorRef {
	return &ActorRef{EmployeeID: &employeeID, Role: role}
}

func SystemActor(source string) *ActorRef {
	return &ActorRef{System: source}
}

// PayloadEnvelope is the JSON stored in outbox_events.payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DomainEvent is what services hand to Emit. AggregateType may be left
// empty; it is derived from EventType.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uint64
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

// Emitter queues domain events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service is the Emitter backed by the outbox table.
type Service struct {
	repo inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("outbox emit requires a transaction")
	}
	row, envelope, err := s.build(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("queue %s: %w", event.EventType, err)
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":     envelope.EventID,
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID,
		}), "outbox event queued")
	}
	return nil
}

func (s *Service) build(event DomainEvent) (models.OutboxEvent, PayloadEnvelope, error) {
	aggregate := event.EventType.Aggregate()
	switch {
	case aggregate == "":
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("unknown outbox event type %q", event.EventType)
	case event.AggregateType != "" && event.AggregateType != aggregate:
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("%s belongs to %s, not %s", event.EventType, aggregate, event.AggregateType)
	case event.AggregateID == 0:
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("%s has no aggregate id", event.EventType)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	envelope := PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("encode envelope: %w", err)
	}

	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: aggregate,
		AggregateID:   strconv.FormatUint(event.AggregateID, 10),
		Payload:       payload,
		CreatedAt:     envelope.OccurredAt,
	}, envelope, nil
}
