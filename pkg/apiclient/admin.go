package apiclient

import (
	"time"
)

// TokenResponse is returned by Login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"` // seconds
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionInfo describes one registered NETCONF session.
type SessionInfo struct {
	ID         uint64    `json:"id" yaml:"id"`
	User       string    `json:"user" yaml:"user"`
	RemoteAddr string    `json:"remote_addr" yaml:"remote_addr"`
	Transport  string    `json:"transport" yaml:"transport"`
	Framing    string    `json:"framing" yaml:"framing"`
	OpenedAt   time.Time `json:"opened_at" yaml:"opened_at"`
	RPCs       uint64    `json:"rpcs" yaml:"rpcs"`
}

// StatusResponse is returned by Status. Outstanding is -1 when the order
// engine could not be reached.
type StatusResponse struct {
	State       string        `json:"state" yaml:"state"`
	Sessions    []SessionInfo `json:"sessions" yaml:"sessions"`
	QueueDepth  int           `json:"queue_depth" yaml:"queue_depth"`
	Outstanding int           `json:"outstanding" yaml:"outstanding"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	Uptime      string        `json:"uptime" yaml:"uptime"`
}

// LifecycleResponse is returned by Start and Stop.
type LifecycleResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Login exchanges the NETCONF credentials for a bearer token.
func (c *Client) Login(username, password string) (*TokenResponse, error) {
	req := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password}

	var resp TokenResponse
	if err := c.post("/api/v1/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the lifecycle status and live sessions.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start asks the server to write START.
func (c *Client) Start() (*LifecycleResponse, error) {
	var resp LifecycleResponse
	if err := c.post("/api/v1/lifecycle/start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests a drain. reason is "normal" or "change-over".
func (c *Client) Stop(reason string) (*LifecycleResponse, error) {
	req := struct {
		Reason string `json:"reason"`
	}{reason}

	var resp LifecycleResponse
	if err := c.post("/api/v1/lifecycle/stop", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Healthy reports whether GET /health answers.
func (c *Client) Healthy() error {
	return c.get("/health", nil)
}
