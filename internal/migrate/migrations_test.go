package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldplan/internal/db"
	"fieldplan/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, migrate.Latest(), v)
	assert.GreaterOrEqual(t, v, 2)

	v, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, migrate.Latest(), v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAppendOnlyTablesRejectUpdates(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO projects(id,name,created_at) VALUES ('p','p','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO plan_versions(project_id,version,session_json,saved_by,saved_at) VALUES ('p',1,'{}','a','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = conn.Exec(`UPDATE plan_versions SET note='x'`)
	assert.ErrorContains(t, err, "immutable")
}
