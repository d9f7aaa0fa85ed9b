package migrate_test

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	fsys := migrate.Embedded()
	matches, err := fs.Glob(fsys, pattern)
	require.NoError(t, err)
	require.Len(t, matches, 1, "migrations matching %s", pattern)
	data, err := fs.ReadFile(fsys, matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestPaymentsMigrationContainsLedgerConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments.sql")

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"payment_amount NUMERIC(12,2) NOT NULL",
		"CHECK (payment_amount <> 0)",
		"FOREIGN KEY (reversal_of_id) REFERENCES payments(id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_transaction_ref",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_ref_bill",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_intent_bill",
		"AND payment_status NOT IN ('cancelled', 'failed')",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_charge_bill",
		"DROP TABLE IF EXISTS payments",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestWebhookEventsMigrationIsUniquePerProvider(t *testing.T) {
	content := readMigration(t, "*_create_processed_webhook_events.sql")

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS processed_webhook_events",
		"ON processed_webhook_events (provider, event_id)",
		"DROP TABLE IF EXISTS processed_webhook_events",
	} {
		assert.Contains(t, content, sub)
	}
}
