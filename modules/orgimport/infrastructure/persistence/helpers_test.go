package persistence

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/org-import/pkg/itf"
)

// testPool gives the test its own migrated database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool := itf.NewDatabaseManager(t).Pool()
	_, err := Migrate(context.Background(), pool, nil)
	require.NoError(t, err)
	return pool
}

func testRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: itf.RequireRedis(t)})
	t.Cleanup(func() { _ = client.Close() })
	return client
}
