// Package dbtest opens isolated in-memory sqlite databases carrying the ledger
// schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]+`)

var schema = []string{
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT,
		gateway_customer_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		account_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME
	)`,
	`CREATE TABLE employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE bills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id INTEGER NOT NULL,
		bill_number TEXT NOT NULL UNIQUE,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		issued_at DATETIME NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE bill_line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT,
		amount NUMERIC(12,2) NOT NULL
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bill_id INTEGER NOT NULL,
		customer_id INTEGER,
		employee_id INTEGER,
		payment_date DATETIME NOT NULL,
		payment_amount NUMERIC(12,2) NOT NULL CHECK (payment_amount <> 0),
		payment_method TEXT NOT NULL,
		payment_channel TEXT,
		payment_status TEXT NOT NULL,
		transaction_ref TEXT,
		gateway_payment_intent_id TEXT,
		gateway_charge_id TEXT,
		gateway_customer_id TEXT,
		checkout_session_id TEXT,
		reversal_of_id INTEGER,
		notes TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payments_transaction_ref ON payments (transaction_ref)
		WHERE transaction_ref IS NOT NULL AND gateway_payment_intent_id IS NULL AND checkout_session_id IS NULL`,
	`CREATE UNIQUE INDEX ux_payments_ref_bill ON payments (transaction_ref, bill_id)
		WHERE transaction_ref IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_payments_intent_bill ON payments (gateway_payment_intent_id, bill_id)
		WHERE gateway_payment_intent_id IS NOT NULL AND payment_status NOT IN ('cancelled', 'failed')`,
	`CREATE UNIQUE INDEX ux_payments_charge_bill ON payments (gateway_charge_id, bill_id)
		WHERE gateway_charge_id IS NOT NULL`,
	`CREATE TABLE processed_webhook_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		processed_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_processed_webhook_events_provider_event ON processed_webhook_events (provider, event_id)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a client backed by a fresh in-memory database private to t.
func Open(t testing.TB) *db.Client {
	t.Helper()

	name := nameSanitizer.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db.NewFromGorm(conn)
}

// Fixture seeds collaborator rows used across ledger tests.
type Fixture struct {
	t      testing.TB
	client *db.Client
	seq    int
}

// NewFixture binds a seeding helper to the client.
func NewFixture(t testing.TB, client *db.Client) *Fixture {
	return &Fixture{t: t, client: client}
}

// Customer inserts a customer with a single active connection.
func (f *Fixture) Customer(name string) (models.Customer, models.Connection) {
	f.t.Helper()
	f.seq++
	customer := models.Customer{Name: name}
	if err := f.client.DB().Create(&customer).Error; err != nil {
		f.t.Fatalf("seed customer: %v", err)
	}
	conn := models.Connection{
		CustomerID:    customer.ID,
		AccountNumber: fmt.Sprintf("ACC-%04d", f.seq),
		Status:        "active",
	}
	if err := f.client.DB().Create(&conn).Error; err != nil {
		f.t.Fatalf("seed connection: %v", err)
	}
	return customer, conn
}

// Employee inserts an active employee with the given role.
func (f *Fixture) Employee(name string, role enums.EmployeeRole) models.Employee {
	f.t.Helper()
	f.seq++
	emp := models.Employee{
		Name:   name,
		Email:  fmt.Sprintf("employee%d@gridpay.test", f.seq),
		Role:   role,
		Active: true,
	}
	if err := f.client.DB().Create(&emp).Error; err != nil {
		f.t.Fatalf("seed employee: %v", err)
	}
	return emp
}

// Bill inserts a bill for the connection whose single energy charge equals total.
func (f *Fixture) Bill(connectionID uint64, total string) models.Bill {
	f.t.Helper()
	return f.BillWithItems(connectionID, models.BillLineItem{
		Kind:        enums.BillLineItemEnergyCharge,
		Description: "energy",
		Amount:      decimal.RequireFromString(total),
	})
}

// BillWithItems inserts a bill with explicit line items.
func (f *Fixture) BillWithItems(connectionID uint64, items ...models.BillLineItem) models.Bill {
	f.t.Helper()
	f.seq++
	issued := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bill := models.Bill{
		ConnectionID: connectionID,
		BillNumber:   fmt.Sprintf("BILL-%05d", f.seq),
		PeriodStart:  issued.AddDate(0, -1, 0),
		PeriodEnd:    issued,
		IssuedAt:     issued,
		DueDate:      issued.AddDate(0, 0, 21),
	}
	if err := f.client.DB().Omit("LineItems", "Payments", "Connection").Create(&bill).Error; err != nil {
		f.t.Fatalf("seed bill: %v", err)
	}
	for i := range items {
		items[i].BillID = bill.ID
		if err := f.client.DB().Create(&items[i]).Error; err != nil {
			f.t.Fatalf("seed bill line item: %v", err)
		}
	}
	bill.LineItems = items
	return bill
}

// Payment inserts a ledger row directly, bypassing service validation.
func (f *Fixture) Payment(p models.Payment) models.Payment {
	f.t.Helper()
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	}
	if p.Status == "" {
		p.Status = enums.PaymentStatusCompleted
	}
	if p.Method == "" {
		p.Method = enums.PaymentMethodCashAtOffice
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.PaymentDate
	}
	if err := f.client.DB().Omit("Bill", "Customer", "Employee").Create(&p).Error; err != nil {
		f.t.Fatalf("seed payment: %v", err)
	}
	return p
}
