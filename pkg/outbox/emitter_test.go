package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
)

func TestEmitQueuesEnvelopeInTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, logger.New(logger.Options{ServiceName: "test"}))

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   42,
			Actor:         outbox.EmployeeActor(7, "cashier"),
			Data:          map[string]any{"payment_id": 42},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListForAggregate(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPaymentRecorded, rows[0].EventType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	require.NotNil(t, envelope.Actor.EmployeeID)
	assert.Equal(t, uint64(7), *envelope.Actor.EmployeeID)
	assert.JSONEq(t, `{"payment_id":42}`, string(envelope.Data))
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentVoided,
			AggregateType: enums.AggregatePayment,
			AggregateID:   9,
			Data:          map[string]any{"payment_id": 9},
		}); err != nil {
			return err
		}
		return errors.New("ledger write failed")
	})
	require.Error(t, err)

	rows, err := repo.ListForAggregate(context.Background(), "9")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	client := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventType("bill_issued"),
			AggregateType: enums.AggregateBill,
			AggregateID:   1,
		})
	})
	require.Error(t, err)
}

func TestEmitDerivesAndChecksAggregate(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventPaymentStatusChanged,
			AggregateID: 11,
			Data:        map[string]any{"payment_id": 11},
		})
	}))
	rows, err := repo.ListForAggregate(ctx, "11")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.AggregatePayment, rows[0].AggregateType)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateBill,
			AggregateID:   12,
		})
	})
	assert.ErrorContains(t, err, "belongs to payment")

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, outbox.DomainEvent{EventType: enums.EventPaymentRecorded})
	})
	assert.ErrorContains(t, err, "no aggregate id")

	assert.Error(t, svc.Emit(ctx, nil, outbox.DomainEvent{EventType: enums.EventPaymentRecorded, AggregateID: 1}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := outbox.NewRepository(client.DB())
	svc := outbox.NewService(repo, nil)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []uint64{1, 2, 3} {
		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   id,
			Data:          map[string]any{"payment_id": id},
			OccurredAt:    old.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, event)
		}))
	}

	var fetched []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, fetched[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, fetched[1].ID, errors.New("pubsub unavailable")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, fetched[2].ID, errors.New("bad payload"), 3)
	}))
	require.Len(t, fetched, 3)
	assert.Equal(t, "1", fetched[0].AggregateID)

	var remaining []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, "2", remaining[0].AggregateID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)

	var deleted int64
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(ctx, tx, old.Add(time.Hour), 3)
		return err
	}))
	assert.Equal(t, int64(2), deleted)
}
