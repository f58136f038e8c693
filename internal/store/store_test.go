package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"geoip-api/internal/migrate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB 需要 PG_TEST_DSN 指向一个可写的空库，未设置时跳过
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.EnsureSchema(ctx, db))
	for _, tbl := range []string{"_geoip_stats_daily", "_geoip_refresh_log"} {
		_, err := db.ExecContext(ctx, "TRUNCATE "+tbl)
		require.NoError(t, err)
	}
	_, err = db.ExecContext(ctx, "UPDATE _geoip_stats_total SET total_queries=0, total_visitors=0 WHERE id=1")
	require.NoError(t, err)
	return AttachDB(db)
}

func TestIncrQueryAndTotals(t *testing.T) {
	st := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, st.IncrQuery(ctx, true, true))
	require.NoError(t, st.IncrQuery(ctx, false, false))
	require.NoError(t, st.IncrQuery(ctx, true, false))

	tot, err := st.GetTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tot.Total)
	assert.Equal(t, int64(1), tot.Visitors)
	assert.Equal(t, int64(3), tot.Today)
	assert.Equal(t, int64(1), tot.TodayNotFound)
	assert.Equal(t, int64(1), tot.TodayVisitors)
}

func TestRefreshLog(t *testing.T) {
	st := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, st.RecordRefresh(ctx, RefreshEntry{Status: "failed", Kind: "network", Detail: "status 401", DurationMs: 12}))
	require.NoError(t, st.RecordRefresh(ctx, RefreshEntry{Status: "success", BuildEpoch: 1700000000, DurationMs: 900}))

	got, err := st.RecentRefreshes(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	statuses := []string{got[0].Status, got[1].Status}
	assert.ElementsMatch(t, []string{"failed", "success"}, statuses)
}
