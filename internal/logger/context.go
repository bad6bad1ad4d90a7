package logger

import (
	"context"
	"net"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging fields for a NETCONF exchange.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	SessionID uint64    // NETCONF session-id
	MessageID string    // rpc message-id attribute
	Operation string    // rpc operation (get-config, edit-config, ...)
	ClientIP  string    // Client IP address (without port)
	Username  string    // Authenticated transport user
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a session opened from remoteAddr.
// The port is stripped from remoteAddr when present.
func NewLogContext(sessionID uint64, remoteAddr, username string) *LogContext {
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	return &LogContext{
		SessionID: sessionID,
		ClientIP:  ip,
		Username:  username,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithRPC returns a copy describing a single rpc and restarts the clock.
func (lc *LogContext) WithRPC(messageID, operation string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MessageID = messageID
		clone.Operation = operation
		clone.StartTime = time.Now()
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
