package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Generic keys follow the OpenTelemetry semantic
// conventions; NETCONF-specific keys use the "netconf." prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrUsername   = "user.name"

	// ========================================================================
	// NETCONF attributes
	// ========================================================================
	AttrSessionID = "netconf.session_id"
	AttrMessageID = "netconf.message_id"
	AttrOperation = "netconf.operation"
	AttrFraming   = "netconf.framing"
	AttrErrorTag  = "netconf.error_tag"
	AttrOutcome   = "netconf.outcome"
	AttrDatastore = "netconf.datastore"

	// ========================================================================
	// Lifecycle and order engine attributes
	// ========================================================================
	AttrState = "lifecycle.state"
	AttrTxnID = "orderengine.txn_id"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
)

// Span names.
const (
	SpanRPC           = "netconf.rpc"
	SpanHello         = "netconf.hello"
	SpanDispatchReply = "dispatch.reply"
	SpanTransaction   = "orderengine.transaction"
	SpanArchivePut    = "archive.put"
	SpanLifecycleStop = "lifecycle.drain"
)

func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

func SessionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSessionID, int64(id))
}

func MessageID(id string) attribute.KeyValue {
	return attribute.String(AttrMessageID, id)
}

func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

func Framing(f string) attribute.KeyValue {
	return attribute.String(AttrFraming, f)
}

// ErrorTag records the rpc-error tag of a failed rpc.
func ErrorTag(tag string) attribute.KeyValue {
	return attribute.String(AttrErrorTag, tag)
}

func Outcome(code int) attribute.KeyValue {
	return attribute.Int(AttrOutcome, code)
}

func Datastore(name string) attribute.KeyValue {
	return attribute.String(AttrDatastore, name)
}

func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

func TxnID(id string) attribute.KeyValue {
	return attribute.String(AttrTxnID, id)
}

func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartRPCSpan starts the span covering one rpc on a session.
func StartRPCSpan(ctx context.Context, sessionID uint64, messageID, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+3)
	all = append(all, SessionID(sessionID), MessageID(messageID), Operation(operation))
	all = append(all, attrs...)
	return StartSpan(ctx, SpanRPC, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindServer))
}

// StartDispatchSpan starts the span covering one asynchronous reply.
func StartDispatchSpan(ctx context.Context, sessionID uint64, outcome int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanDispatchReply, trace.WithAttributes(SessionID(sessionID), Outcome(outcome)))
}
