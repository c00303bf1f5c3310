package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ankoh/dashql-compute/internal/adapter/postgres"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testSchema = `
	CREATE TABLE trips (
		id         SERIAL PRIMARY KEY,
		city       TEXT,
		distance   NUMERIC(8,2) NOT NULL,
		passengers SMALLINT NOT NULL,
		tags       TEXT[],
		started_at TIMESTAMPTZ NOT NULL
	);

	INSERT INTO trips (city, distance, passengers, tags, started_at)
	SELECT
		CASE (i % 3) WHEN 0 THEN 'berlin' WHEN 1 THEN 'munich' ELSE NULL END,
		(i * 1.5)::numeric(8,2),
		(i % 4) + 1,
		ARRAY['t' || (i % 2)],
		now() - (i || ' hours')::interval
	FROM generate_series(1, 20) AS i;
`

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, connStr, postgres.PoolOptions{MaxConns: 4, ApplicationName: "dashql-compute-test"})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return pool
}

func TestQuery_ResultTypes(t *testing.T) {
	pool := setupTestDB(t)
	source := postgres.NewSource(pool, true, 100, 10*time.Second)

	rec, err := source.Query(context.Background(), "SELECT city, distance, passengers, tags, started_at FROM trips ORDER BY id")
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(20), rec.NumRows())
	schema := rec.Schema()
	assert.Equal(t, arrow.STRING, schema.Field(0).Type.ID())
	assert.Equal(t, arrow.FLOAT64, schema.Field(1).Type.ID())
	assert.Equal(t, arrow.INT16, schema.Field(2).Type.ID())
	assert.Equal(t, arrow.LIST, schema.Field(3).Type.ID())
	assert.Equal(t, arrow.TIMESTAMP, schema.Field(4).Type.ID())

	city := rec.Column(0).(*array.String)
	assert.Equal(t, "munich", city.Value(0))
	assert.True(t, city.IsNull(1))
	assert.InDelta(t, 1.5, rec.Column(1).(*array.Float64).Value(0), 1e-9)
}

func TestQuery_RowLimit(t *testing.T) {
	pool := setupTestDB(t)
	source := postgres.NewSource(pool, true, 3, 10*time.Second)

	rec, err := source.Query(context.Background(), "SELECT id FROM trips")
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(3), rec.NumRows(), "should be limited to maxRows=3")
}

func TestQuery_Explain(t *testing.T) {
	pool := setupTestDB(t)
	source := postgres.NewExplainOnlySource(postgres.NewSource(pool, true, 100, 10*time.Second))

	rec, err := source.Query(context.Background(), "SELECT * FROM trips")
	require.NoError(t, err)
	defer rec.Release()
	assert.Positive(t, rec.NumRows())
	assert.Equal(t, "QUERY PLAN", rec.Schema().Field(0).Name)
}

func TestQuery_ReadOnly(t *testing.T) {
	pool := setupTestDB(t)
	source := postgres.NewSource(pool, true, 100, 10*time.Second)

	_, err := source.Query(context.Background(), "SELECT nextval('trips_id_seq')")
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "read-only")
}

func TestQuery_StatementTimeout(t *testing.T) {
	pool := setupTestDB(t)
	source := postgres.NewSource(pool, true, 100, 1*time.Second)

	_, err := source.Query(context.Background(), "SELECT pg_sleep(30)")
	require.Error(t, err)

	// PostgreSQL cancels with SQLSTATE 57014 (query_canceled), or the Go
	// context expires first.
	errMsg := strings.ToLower(err.Error())
	assert.True(t,
		strings.Contains(errMsg, "statement timeout") ||
			strings.Contains(errMsg, "cancel") ||
			strings.Contains(errMsg, "57014") ||
			strings.Contains(errMsg, "deadline exceeded") ||
			strings.Contains(errMsg, "timeout"),
		"expected timeout-related error, got: %s", err,
	)
}
