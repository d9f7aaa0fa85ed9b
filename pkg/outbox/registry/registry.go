// Package registry decodes stored outbox rows and routes them to topics.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

type decoder func(json.RawMessage) (any, error)

func decodeAs[T any]() decoder {
	return func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

var decoders = map[enums.OutboxEventType]decoder{
	enums.EventPaymentRecorded:      decodeAs[payloads.PaymentRecordedEvent](),
	enums.EventPaymentCorrected:     decodeAs[payloads.PaymentCorrectedEvent](),
	enums.EventPaymentVoided:        decodeAs[payloads.PaymentReversedEvent](),
	enums.EventPaymentRefunded:      decodeAs[payloads.PaymentReversedEvent](),
	enums.EventPaymentStatusChanged: decodeAs[payloads.PaymentStatusChangedEvent](),
}

type entry struct {
	desc   EventDescriptor
	decode decoder
}

// EventRegistry knows how to decode and route every ledger event type.
type EventRegistry struct {
	entries map[enums.OutboxEventType]entry
	topics  []string
}

// NewEventRegistry routes every ledger event to the ledger topic. It fails
// if an event type has no payload decoder.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.LedgerTopic)
	if topic == "" {
		return nil, errors.New("ledger topic is required")
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]entry{}, topics: []string{topic}}
	for _, eventType := range enums.OutboxEventTypes() {
		decode, ok := decoders[eventType]
		if !ok {
			return nil, fmt.Errorf("no payload decoder for %s", eventType)
		}
		reg.entries[eventType] = entry{
			desc: EventDescriptor{
				EventType:     eventType,
				AggregateType: eventType.Aggregate(),
				Topic:         topic,
			},
			decode: decode,
		}
	}
	return reg, nil
}

// Topics returns the distinct topics events are routed to.
func (r *EventRegistry) Topics() []string {
	return append([]string(nil), r.topics...)
}

// Resolve checks the row's routing fields and decodes its payload. Every
// error it returns is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	e, ok := r.entries[event.EventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type %q", event.EventType)
	}
	if event.AggregateType != e.desc.AggregateType {
		return nil, fmt.Errorf("%s expects aggregate %s, row has %q", event.EventType, e.desc.AggregateType, event.AggregateType)
	}
	if id, err := strconv.ParseUint(strings.TrimSpace(event.AggregateID), 10, 64); err != nil || id == 0 {
		return nil, fmt.Errorf("invalid aggregate id %q", event.AggregateID)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%s envelope has no data", event.EventType)
	}
	payload, err := e.decode(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: e.desc, Envelope: envelope, Payload: payload}, nil
}
