package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "invoices_external_order_id_key"}
	wrapped := fmt.Errorf("insert invoice: %w", pgErr)

	require.True(t, IsUniqueViolation(wrapped, ""))
	require.True(t, IsUniqueViolation(wrapped, "invoices_external_order_id_key"))
	require.False(t, IsUniqueViolation(wrapped, "payments_provider_payment_id_key"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))

	sqliteErr := errors.New("UNIQUE constraint failed: payments.provider_payment_id")
	require.True(t, IsUniqueViolation(sqliteErr, "provider_payment_id"))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
	require.False(t, IsUniqueViolation(nil, ""))
}
