package certificate

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestPostgresStore connects to DATABASE_URL and empties every table, so
// the database must be a disposable one.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is not set")
	}

	store, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.pool.Exec(context.Background(),
		`TRUNCATE certificates, wallets, configuration, credentials, scheduler_status, kill_switch_attempts RESTART IDENTITY`)
	require.NoError(t, err)
	require.NoError(t, store.Init())
	return store
}
