package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/status"
	"github.com/marmos91/netconfd/pkg/status/statustest"
)

func TestConformance(t *testing.T) {
	statustest.RunConformanceSuite(t, func(t *testing.T) status.Backend {
		b, err := Open(Config{Path: t.TempDir(), Node: "node-a"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{Path: dir, Node: "node-a"})
	require.NoError(t, err)
	require.NoError(t, b.Save(t.Context(), status.Start))
	require.NoError(t, b.Close())

	b, err = Open(Config{Path: dir, Node: "node-a"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	got, err := b.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, status.Start, got)
}

func TestNodesAreIsolated(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(Config{Path: dir, Node: "node-a"})
	require.NoError(t, err)
	require.NoError(t, a.Save(t.Context(), status.Start))
	require.NoError(t, a.Close())

	b, err := Open(Config{Path: dir, Node: "node-b"})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, err = b.Load(t.Context())
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestInMemory(t *testing.T) {
	b, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Save(t.Context(), status.ReadyToStart))
	got, err := b.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, status.ReadyToStart, got)
}

func TestRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
