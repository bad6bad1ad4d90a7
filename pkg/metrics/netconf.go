package metrics

import (
	"time"
)

// Dispatch results recorded by RecordDispatch.
const (
	DispatchReplied         = "replied"
	DispatchSessionGone     = "session_gone"
	DispatchInvalidEnvelope = "invalid_envelope"
	DispatchSendFailed      = "send_failed"
)

// NetconfMetrics provides observability for the NETCONF server core.
//
// This interface is optional - components accept nil and skip recording.
//
// Example usage:
//
//	m := prometheus.NewNetconfMetrics() // nil unless metrics.InitRegistry was called
//	listener := server.NewListener(cfg, provider, registry, serveFn, m)
type NetconfMetrics interface {
	// RecordTransportAccepted counts authenticated transports.
	RecordTransportAccepted()

	// RecordTransportRejected counts transports closed by the server.
	// reason is "auth" or "rate_limited" before authentication completes, and
	// "watchdog" when an idle transport expires.
	RecordTransportRejected(reason string)

	// SetActiveTransports updates the live transport gauge.
	SetActiveTransports(count int)

	// RecordSessionOpened and RecordSessionClosed bracket a NETCONF session.
	RecordSessionOpened()
	RecordSessionClosed()

	// SetActiveSessions updates the registered session gauge.
	SetActiveSessions(count int)

	// RecordRPC records one handled rpc.
	//
	// Parameters:
	//   - operation: rpc operation name (unregistered names are reported as "other")
	//   - result: "ok", "forwarded" or the rpc-error tag
	//   - duration: time spent in the protocol engine
	RecordRPC(operation, result string, duration time.Duration)

	// RecordDispatch records the fate of one completion handled by the reply
	// dispatcher.
	RecordDispatch(result string)

	// RecordOfferRejected counts completions refused because the queue was full.
	RecordOfferRejected()

	// SetQueueDepth updates the completion queue depth gauge.
	SetQueueDepth(depth int)

	// SetLifecycleState marks state as the current lifecycle status.
	SetLifecycleState(state string)

	// SetOutstanding updates the outstanding order engine transactions gauge.
	SetOutstanding(count int)
}
