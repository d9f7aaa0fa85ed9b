package bills

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

func TestLoadForUpdateBuildsAggregate(t *testing.T) {
	client := dbtest.Open(t)
	fx := dbtest.NewFixture(t, client)
	_, conn := fx.Customer("Ada")
	bill := fx.BillWithItems(conn.ID,
		models.BillLineItem{Kind: enums.BillLineItemEnergyCharge, Amount: decimal.NewFromInt(900)},
		models.BillLineItem{Kind: enums.BillLineItemTax, Amount: decimal.NewFromInt(150)},
		models.BillLineItem{Kind: enums.BillLineItemSubsidy, Amount: decimal.NewFromInt(50)},
	)
	fx.Payment(models.Payment{BillID: bill.ID, Amount: decimal.NewFromInt(400)})
	fx.Payment(models.Payment{BillID: bill.ID, Amount: decimal.NewFromInt(100), Status: enums.PaymentStatusPending, Method: enums.PaymentMethodGatewayCard})

	repo := NewRepository(client.DB())
	var loaded *models.Bill
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		loaded, err = repo.LoadForUpdate(context.Background(), tx, bill.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, loaded.LineItems, 3)
	require.Len(t, loaded.Payments, 2)
	assert.True(t, loaded.TotalAmount().Equal(decimal.NewFromInt(1000)))
	assert.True(t, loaded.TotalPaid().Equal(decimal.NewFromInt(400)))
	assert.True(t, loaded.PendingAmount().Equal(decimal.NewFromInt(100)))
	assert.True(t, loaded.PayableBalance().Equal(decimal.NewFromInt(500)))
}

func TestLoadManyForUpdateKeepsCallerOrder(t *testing.T) {
	client := dbtest.Open(t)
	fx := dbtest.NewFixture(t, client)
	_, conn := fx.Customer("Grace")
	first := fx.Bill(conn.ID, "100")
	second := fx.Bill(conn.ID, "200")
	repo := NewRepository(client.DB())

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		rows, err := repo.LoadManyForUpdate(context.Background(), tx, []uint64{second.ID, first.ID})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, second.ID, rows[0].ID)
		assert.Equal(t, first.ID, rows[1].ID)

		_, err = repo.LoadManyForUpdate(context.Background(), tx, []uint64{first.ID, 9999})
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestResolveCustomerForBill(t *testing.T) {
	client := dbtest.Open(t)
	fx := dbtest.NewFixture(t, client)
	customer, conn := fx.Customer("Linus")
	bill := fx.Bill(conn.ID, "10")
	repo := NewRepository(client.DB())

	got, err := repo.ResolveCustomerForBill(context.Background(), nil, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, got)

	_, err = repo.ResolveCustomerForBill(context.Background(), nil, 4242)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestGetMissingBill(t *testing.T) {
	client := dbtest.Open(t)
	_, err := NewRepository(client.DB()).Get(context.Background(), 77)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestListWithCountedPayments(t *testing.T) {
	client := dbtest.Open(t)
	fx := dbtest.NewFixture(t, client)
	_, conn := fx.Customer("Barbara")
	paid := fx.Bill(conn.ID, "100")
	pendingOnly := fx.Bill(conn.ID, "100")
	fx.Bill(conn.ID, "100")
	fx.Payment(models.Payment{BillID: paid.ID, Amount: decimal.NewFromInt(120)})
	fx.Payment(models.Payment{BillID: pendingOnly.ID, Amount: decimal.NewFromInt(50), Status: enums.PaymentStatusPending, Method: enums.PaymentMethodGatewayCard})

	rows, err := NewRepository(client.DB()).ListWithCountedPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, paid.ID, rows[0].ID)
}
