package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateSQLiteIsRepeatable(t *testing.T) {
	conn, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, MigrateSQLite(conn))
	require.NoError(t, MigrateSQLite(conn))

	for _, table := range []string{"posts", "users", "mtproto_sessions"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
