package credentials

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		expected  bool
	}{
		{name: "expired in past", expiresAt: time.Now().Add(-time.Hour), expected: true},
		{name: "expires within skew", expiresAt: time.Now().Add(30 * time.Second), expected: true},
		{name: "not expired", expiresAt: time.Now().Add(2 * time.Hour), expected: false},
		{name: "zero time is expired", expiresAt: time.Time{}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expected, tok.IsExpired())
		})
	}
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netconfd", FileName)

	store, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	_, err = store.Get("http://localhost:8080")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(&Token{
		ServerURL:   "http://localhost:8080",
		Username:    "admin",
		AccessToken: "tok-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, store.Put(&Token{
		ServerURL:   "http://other:8080",
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	t.Run("file is owner only", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits are not enforced on Windows")
		}
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())
	})

	t.Run("reopen", func(t *testing.T) {
		reopened, err := Open(path)
		require.NoError(t, err)

		tok, err := reopened.Get("http://localhost:8080")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok.AccessToken)
		assert.Equal(t, "admin", tok.Username)

		_, err = reopened.Get("http://other:8080")
		assert.ErrorIs(t, err, ErrNotFound, "expired tokens are not returned")
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete("http://localhost:8080"))
		require.NoError(t, store.Delete("http://never-stored"))

		reopened, err := Open(path)
		require.NoError(t, err)
		_, err = reopened.Get("http://localhost:8080")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path)
	require.Error(t, err)
}
