package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspyhq/aspy-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestSubscriptionsMigrationEnforcesOnePerUser(t *testing.T) {
	content := readMigration(t, "create_subscriptions")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CONSTRAINT subscriptions_user_unique UNIQUE (user_id)",
		"CHECK (status IN ('active', 'cancelled', 'expired'))",
		"DROP TABLE IF EXISTS subscriptions",
	} {
		require.Contains(t, content, sub)
	}
}

func TestInvoicesMigrationGuardsOrderIDs(t *testing.T) {
	content := readMigration(t, "create_invoices")
	for _, sub := range []string{
		"CONSTRAINT invoices_external_order_unique UNIQUE (external_order_id)",
		"CHECK (status IN ('pending', 'paid', 'failed'))",
		"FOREIGN KEY (plan_id) REFERENCES plans(id)",
		"DROP TABLE IF EXISTS invoices",
	} {
		require.Contains(t, content, sub)
	}
}

func TestPaymentsMigrationDedupesProviderPayments(t *testing.T) {
	content := readMigration(t, "create_payments")
	require.Contains(t, content, "CONSTRAINT payments_provider_payment_unique UNIQUE (provider_payment_id)")
	require.Contains(t, content, "payment_method_details jsonb")
}

func TestOutboxMigrationIndexesUnpublished(t *testing.T) {
	content := readMigration(t, "create_outbox_events")
	require.Contains(t, content, "WHERE published_at IS NULL")
	require.Contains(t, content, "attempt_count integer NOT NULL DEFAULT 0")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}

func TestValidateDirRequiresDownSection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_only_up.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644))
	err := migrate.ValidateDir(dir)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "goose Down"))
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Columns!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_refund_columns.sql"))
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestCreateSQLMigrationRefusesReusedName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_create_plans.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	_, err := migrate.CreateSQLMigration(dir, "create plans")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")

	path, err := migrate.CreateSQLMigration(dir, "plans")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_plans.sql"))
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := migrate.CreateSQLMigration(t.TempDir(), "!!!")
	require.Error(t, err)
	_, err = migrate.CreateSQLMigration("", "refunds")
	require.Error(t, err)
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	require.NoError(t, migrate.ValidateEmbedded())

	embeddedFiles, err := migrate.Files()
	require.NoError(t, err)
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	require.Len(t, embeddedFiles, len(onDisk))
	require.True(t, strings.HasSuffix(embeddedFiles[len(embeddedFiles)-1], "_seed_plans.sql"))
}

func TestValidateDirRequiresBalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_unbalanced.sql"), []byte(body), 0o644))
	err := migrate.ValidateDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "StatementBegin")
}
