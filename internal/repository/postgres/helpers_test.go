package postgres

import (
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/pkg/database"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var productCols = []string{
	"sku", "store_id", "name", "description", "unit_price", "quantity", "reserved_quantity",
	"active", "last_updated", "version",
}

var eventCols = []string{
	"event_id", "sku", "store_id", "product_name", "event_type", "previous_quantity", "new_quantity",
	"reserved_quantity", "sequence", "details", "event_timestamp", "processing_status", "processed_at",
	"error_message", "attempts", "next_attempt_at",
}

var centralCols = []string{
	"sku", "product_name", "description", "category", "unit_price", "total_quantity",
	"total_reserved_quantity", "available_quantity", "last_updated", "version", "active",
}

var registryCols = []string{
	"sku", "store_id", "store_name", "store_location", "quantity", "reserved", "available",
	"last_updated", "last_sync_time", "is_synchronized", "last_sequence",
}

func withTotal(cols []string) []string {
	return append(append([]string(nil), cols...), "total_count")
}
