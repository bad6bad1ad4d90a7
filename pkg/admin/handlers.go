package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/lifecycle"
	"github.com/marmos91/netconfd/pkg/session"
	"github.com/marmos91/netconfd/pkg/status"
	"github.com/marmos91/netconfd/pkg/transport/sshd"
)

// statusTimeout bounds status store and order engine reads made by a request.
const statusTimeout = 5 * time.Second

// Controller is the part of *lifecycle.Controller the API drives.
type Controller interface {
	Status(ctx context.Context) (status.State, error)
	Start(ctx context.Context) error
	Stop(reason lifecycle.Reason)
	Registry() *session.Registry
	QueueDepth() int
	Outstanding(ctx context.Context) (int, error)
}

// Credentials is the account allowed to log in. Password may be a bcrypt
// hash.
type Credentials struct {
	Username string
	Password string
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	State       string         `json:"state"`
	Sessions    []session.Info `json:"sessions"`
	QueueDepth  int            `json:"queue_depth"`
	Outstanding int            `json:"outstanding"`
	StartedAt   time.Time      `json:"started_at"`
	Uptime      string         `json:"uptime"`
}

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StopRequest is the body of POST /api/v1/lifecycle/stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// LifecycleResponse acknowledges a lifecycle request.
type LifecycleResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type handler struct {
	ctrl      Controller
	creds     Credentials
	jwt       *JWTService
	startTime time.Time
}

// Liveness handles GET /health.
func (h *handler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    "netconfd",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
	})
}

// Readiness handles GET /health/ready. The server is ready only in START.
func (h *handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	state, err := h.ctrl.Status(ctx)
	if err != nil {
		ServiceUnavailable(w, "status unavailable: "+err.Error())
		return
	}
	if state != status.Start {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"state":  state.String(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"state":  state.String(),
	})
}

// Login handles POST /api/v1/auth/login.
func (h *handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	if !sshd.CheckCredentials(h.creds.Username, h.creds.Password, req.Username, []byte(req.Password)) {
		logger.WarnCtx(r.Context(), "Admin login rejected", logger.KeyUsername, req.Username)
		Unauthorized(w, "Invalid username or password")
		return
	}

	token, err := h.jwt.Issue(req.Username)
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}
	WriteJSON(w, http.StatusOK, token)
}

// Status handles GET /api/v1/status.
func (h *handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	state, err := h.ctrl.Status(ctx)
	if err != nil {
		InternalServerError(w, "Failed to read status: "+err.Error())
		return
	}

	// An unreachable engine is reported as -1 rather than failing the request.
	outstanding, err := h.ctrl.Outstanding(ctx)
	if err != nil {
		logger.Debug("Outstanding count unavailable", logger.KeyError, err)
		outstanding = -1
	}

	live := h.ctrl.Registry().Snapshot()
	infos := make([]session.Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.Info())
	}

	WriteJSON(w, http.StatusOK, StatusResponse{
		State:       state.String(),
		Sessions:    infos,
		QueueDepth:  h.ctrl.QueueDepth(),
		Outstanding: outstanding,
		StartedAt:   h.startTime.UTC(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Start handles POST /api/v1/lifecycle/start.
func (h *handler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Start(r.Context()); err != nil {
		if errors.Is(err, lifecycle.ErrStopped) {
			Conflict(w, "Server has stopped")
			return
		}
		InternalServerError(w, "Failed to start: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, LifecycleResponse{State: status.Start.String()})
}

// Stop handles POST /api/v1/lifecycle/stop. The drain runs asynchronously;
// poll the status endpoint to observe completion.
func (h *handler) Stop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}

	reason, err := lifecycle.ParseReason(req.Reason)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	state, err := h.ctrl.Status(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to read status: "+err.Error())
		return
	}
	if state != status.Start {
		Conflict(w, "Server is not in START (current: "+state.String()+")")
		return
	}

	h.ctrl.Stop(reason)
	WriteJSON(w, http.StatusAccepted, LifecycleResponse{State: state.String(), Reason: reason.String()})
}
