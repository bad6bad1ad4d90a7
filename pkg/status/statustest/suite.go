// Package statustest provides a conformance test suite for status.Backend
// implementations.
//
// Every persisted backend (badger, sql, redis) should pass these tests.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    statustest.RunConformanceSuite(t, func(t *testing.T) status.Backend {
//	        return newBackendForTest(t)
//	    })
//	}
//
// The factory receives *testing.T so it can call t.TempDir() for backends
// that need filesystem paths and t.Cleanup for teardown.
package statustest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/status"
)

// BackendFactory creates a fresh, empty Backend for each test.
type BackendFactory func(t *testing.T) status.Backend

// RunConformanceSuite runs the backend contract tests against factory.
func RunConformanceSuite(t *testing.T, factory BackendFactory) {
	t.Helper()

	t.Run("EmptyBackendReportsNotFound", func(t *testing.T) {
		b := factory(t)

		_, err := b.Load(t.Context())
		assert.True(t, errors.Is(err, status.ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		b := factory(t)

		for _, s := range status.States {
			require.NoError(t, b.Save(t.Context(), s))
			got, err := b.Load(t.Context())
			require.NoError(t, err)
			assert.Equal(t, s, got)
		}
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		b := factory(t)

		require.NoError(t, b.Save(t.Context(), status.ReadyToStart))
		require.NoError(t, b.Save(t.Context(), status.Start))
		require.NoError(t, b.Save(t.Context(), status.ReadyToStop))

		got, err := b.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, status.ReadyToStop, got)
	})

	t.Run("LayeredSeedsMemoryFromBackend", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Save(t.Context(), status.ChangeOver))

		store := status.NewLayered(b)
		got, err := store.Read(t.Context())
		require.NoError(t, err)
		assert.Equal(t, status.ChangeOver, got)
	})

	t.Run("LayeredMemoryScopeDoesNotPersist", func(t *testing.T) {
		b := factory(t)
		store := status.NewLayered(b)

		require.NoError(t, store.Write(t.Context(), status.Start, status.ScopeMemory))
		_, err := b.Load(t.Context())
		assert.True(t, errors.Is(err, status.ErrNotFound))

		require.NoError(t, store.Write(t.Context(), status.Start, status.ScopeBoth))
		got, err := b.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, status.Start, got)
	})
}
