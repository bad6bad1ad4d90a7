package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/admin"
	"github.com/marmos91/netconfd/pkg/lifecycle"
	"github.com/marmos91/netconfd/pkg/session"
	"github.com/marmos91/netconfd/pkg/status"
)

func TestNew(t *testing.T) {
	client := New("http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080", client.baseURL)
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:8080")
	tokenClient := client.WithToken("test-token")

	assert.Empty(t, client.token)
	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8080", tokenClient.baseURL)
}

func TestDoWithAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "netconfd-cli", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	require.NoError(t, client.get("/test", nil))
}

func TestOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	client := New("http://localhost:8080", WithHTTPClient(hc), WithUserAgent("probe"))
	assert.Same(t, hc, client.httpClient)
	assert.Equal(t, "probe", client.userAgent)
}

func TestDoWithError(t *testing.T) {
	t.Run("problem details", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"title":  "Conflict",
				"status": 409,
				"detail": "Server is not in START",
			})
		}))
		defer server.Close()

		err := New(server.URL).get("/test", nil)
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Equal(t, "Conflict: Server is not in START", apiErr.Error())
		assert.True(t, IsConflict(err))
		assert.False(t, IsAuthError(err))
	})

	t.Run("plain text body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		err := New(server.URL).get("/test", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "boom", apiErr.Error())
	})

	t.Run("empty body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		err := New(server.URL).get("/test", nil)
		assert.True(t, IsAuthError(err))
		assert.Equal(t, "Unauthorized", err.Error())
	})
}

func TestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url).Healthy()
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport failures are not API errors")
}

// ============================================================================
// Round trip against the admin router
// ============================================================================

type stubController struct {
	state    status.State
	stops    []lifecycle.Reason
	registry *session.Registry
}

func (s *stubController) Status(context.Context) (status.State, error) { return s.state, nil }
func (s *stubController) Start(context.Context) error {
	s.state = status.Start
	return nil
}
func (s *stubController) Stop(r lifecycle.Reason)                  { s.stops = append(s.stops, r) }
func (s *stubController) Registry() *session.Registry              { return s.registry }
func (s *stubController) QueueDepth() int                          { return 0 }
func (s *stubController) Outstanding(context.Context) (int, error) { return 4, nil }

func TestRoundTrip(t *testing.T) {
	jwtService, err := admin.NewJWTService("test-secret-key-that-is-at-least-32-characters-long", time.Minute)
	require.NoError(t, err)

	ctrl := &stubController{state: status.ReadyToStart, registry: session.NewRegistry()}
	server := httptest.NewServer(admin.NewRouter(ctrl, admin.Credentials{Username: "admin", Password: "pw"}, jwtService, nil))
	defer server.Close()

	client := New(server.URL)
	require.NoError(t, client.Healthy())

	_, err = client.Status()
	assert.True(t, IsAuthError(err))

	_, err = client.Login("admin", "wrong")
	assert.True(t, IsAuthError(err))

	tok, err := client.Login("admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(60), tok.ExpiresIn)
	client.SetToken(tok.AccessToken)

	st, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "READY_TO_START", st.State)
	assert.Equal(t, 4, st.Outstanding)
	assert.Empty(t, st.Sessions)

	_, err = client.Stop("normal")
	assert.True(t, IsConflict(err))

	started, err := client.Start()
	require.NoError(t, err)
	assert.Equal(t, "START", started.State)

	stopped, err := client.Stop("change-over")
	require.NoError(t, err)
	assert.Equal(t, "change-over", stopped.Reason)
	assert.Equal(t, []lifecycle.Reason{lifecycle.ReasonChangeOver}, ctrl.stops)
}
