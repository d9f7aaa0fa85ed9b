package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/payloads"
)

func newRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{LedgerTopic: " ledger-topic "})
	require.NoError(t, err)
	return reg
}

func envelope(t *testing.T, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return raw
}

func TestResolveDecodesPayload(t *testing.T) {
	reg := newRegistry(t)
	data, err := json.Marshal(payloads.PaymentRecordedEvent{
		PaymentID:     12,
		BillID:        3,
		ReceiptNumber: "RCP-2026-00012",
		Amount:        decimal.NewFromInt(1000),
		Method:        enums.PaymentMethodCashAtOffice,
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   "12",
		Payload:       envelope(t, string(data)),
	})
	require.NoError(t, err)
	assert.Equal(t, "ledger-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.PaymentRecordedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, uint64(12), payload.PaymentID)
	assert.True(t, payload.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestResolveRefundUsesReversalPayload(t *testing.T) {
	resolved, err := newRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   "8",
		Payload:       envelope(t, `{"original_payment_id":8,"reversal_payment_id":9,"amount":"-5.00"}`),
	})
	require.NoError(t, err)
	payload, ok := resolved.Payload.(*payloads.PaymentReversedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(9), payload.ReversalPaymentID)
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := newRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType: "bill_issued", AggregateType: enums.AggregateBill, AggregateID: "4",
			Payload: envelope(t, `{"bill_id":4}`),
		},
		"aggregate mismatch": {
			EventType: enums.EventPaymentVoided, AggregateType: enums.AggregateBill, AggregateID: "9",
			Payload: envelope(t, `{"original_payment_id":9}`),
		},
		"missing aggregate id": {
			EventType: enums.EventPaymentRefunded, AggregateType: enums.AggregatePayment,
			Payload: envelope(t, `{}`),
		},
		"non numeric aggregate id": {
			EventType: enums.EventPaymentRefunded, AggregateType: enums.AggregatePayment, AggregateID: "abc",
			Payload: envelope(t, `{}`),
		},
		"null data": {
			EventType: enums.EventPaymentStatusChanged, AggregateType: enums.AggregatePayment, AggregateID: "5",
			Payload: envelope(t, `null`),
		},
		"corrupt envelope": {
			EventType: enums.EventPaymentStatusChanged, AggregateType: enums.AggregatePayment, AggregateID: "5",
			Payload: json.RawMessage(`{"data":`),
		},
		"wrong payload shape": {
			EventType: enums.EventPaymentStatusChanged, AggregateType: enums.AggregatePayment, AggregateID: "5",
			Payload: envelope(t, `{"payment_id":"five"}`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			var nonRetryable NonRetryableError
			assert.True(t, errors.As(err, &nonRetryable), "got %T", err)
		})
	}
}

func TestEveryEventTypeIsRouted(t *testing.T) {
	reg := newRegistry(t)
	for _, eventType := range enums.OutboxEventTypes() {
		assert.Contains(t, reg.entries, eventType)
	}
	assert.Equal(t, []string{"ledger-topic"}, reg.Topics())
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{LedgerTopic: "  "})
	assert.Error(t, err)
}
