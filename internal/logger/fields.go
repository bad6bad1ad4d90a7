package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so session and rpc logs can be correlated.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// NETCONF Protocol
	// ========================================================================
	KeySessionID  = "session_id"  // Server-assigned NETCONF session-id
	KeyMessageID  = "message_id"  // Client-supplied rpc message-id
	KeyOperation  = "operation"   // rpc operation name
	KeyFraming    = "framing"     // Negotiated framing: eom or chunked
	KeyErrorTag   = "error_tag"   // rpc-error error-tag
	KeyErrorType  = "error_type"  // rpc-error error-type
	KeyOutcome    = "outcome"     // Order engine completion outcome code
	KeyDatastore  = "datastore"   // Target/source datastore name
	KeyTxnID      = "txn_id"      // Order engine transaction id
	KeyCapability = "capability"  // Advertised or received capability URI
	KeyBytes      = "bytes"       // Message size in bytes

	// ========================================================================
	// Transport & Client Identification
	// ========================================================================
	KeyClientIP  = "client_ip"
	KeyUsername  = "username"
	KeyTransport = "transport" // Transport remote address
	KeyChannels  = "channels"  // Number of channels opened on a transport

	// ========================================================================
	// Lifecycle
	// ========================================================================
	KeyState       = "state"       // Lifecycle status value
	KeyScope       = "scope"       // Status write scope
	KeyReason      = "reason"      // Stop reason
	KeyOutstanding = "outstanding" // Outstanding order engine transactions

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyStoreType  = "store_type"
)

// ============================================================================
// Typed attribute helpers
// ============================================================================

// SessionID creates a session_id attribute
func SessionID(id uint64) slog.Attr {
	return slog.Uint64(KeySessionID, id)
}

// MessageID creates a message_id attribute
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// Operation creates an operation attribute
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Framing creates a framing attribute
func Framing(f string) slog.Attr {
	return slog.String(KeyFraming, f)
}

// ErrorTag creates an error_tag attribute
func ErrorTag(tag string) slog.Attr {
	return slog.String(KeyErrorTag, tag)
}

func Outcome(code int) slog.Attr {
	return slog.Int(KeyOutcome, code)
}

func TxnID(id string) slog.Attr {
	return slog.String(KeyTxnID, id)
}

// ClientIP creates a client_ip attribute
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Username creates a username attribute
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// State creates a lifecycle state attribute
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// DurationMs creates a duration_ms attribute
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err creates an error attribute. A nil error yields an empty value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
