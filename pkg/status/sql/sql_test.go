package sql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/status"
	"github.com/marmos91/netconfd/pkg/status/statustest"
)

func newSQLiteBackend(t *testing.T, path, node string) *Backend {
	t.Helper()
	b, err := Open(Config{Type: DatabaseTypeSQLite, SQLitePath: path, Node: node})
	require.NoError(t, err)
	return b
}

func TestSQLiteConformance(t *testing.T) {
	statustest.RunConformanceSuite(t, func(t *testing.T) status.Backend {
		b := newSQLiteBackend(t, filepath.Join(t.TempDir(), "status.db"), "node-a")
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestSQLiteSharedTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")

	a := newSQLiteBackend(t, path, "node-a")
	defer func() { _ = a.Close() }()
	b := newSQLiteBackend(t, path, "node-b")
	defer func() { _ = b.Close() }()

	require.NoError(t, a.Save(t.Context(), status.Start))
	require.NoError(t, b.Save(t.Context(), status.ReadyToStop))

	got, err := a.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, status.Start, got)

	got, err = b.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, status.ReadyToStop, got)
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfig(t *testing.T) {
	t.Run("DefaultsToSQLite", func(t *testing.T) {
		cfg := Config{SQLitePath: "/tmp/x.db"}
		cfg.ApplyDefaults()
		assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
		assert.NotEmpty(t, cfg.Node)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("PostgresDefaults", func(t *testing.T) {
		cfg := Config{Type: DatabaseTypePostgres, Postgres: PostgresConfig{Host: "db", Database: "d", User: "u"}}
		cfg.ApplyDefaults()
		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, "disable", cfg.Postgres.SSLMode)
		assert.NoError(t, cfg.Validate())
		assert.Contains(t, cfg.Postgres.DSN(), "sslmode=disable")
	})

	t.Run("RejectsIncomplete", func(t *testing.T) {
		assert.Error(t, (&Config{Type: DatabaseTypeSQLite}).Validate())
		assert.Error(t, (&Config{Type: DatabaseTypePostgres}).Validate())
		assert.Error(t, (&Config{Type: "mysql"}).Validate())
	})
}
