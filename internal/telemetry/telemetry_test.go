package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "netconfd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestNoOpHelpers(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	span.End()

	require.NotPanics(t, func() {
		RecordError(ctx, nil)
		RecordError(ctx, errors.New("boom"))
		SetStatus(ctx, codes.Error, "failed")
		SetAttributes(ctx, ClientIP("192.0.2.1"))
	})

	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}

func TestParseProfileTypes(t *testing.T) {
	t.Run("known", func(t *testing.T) {
		types, err := parseProfileTypes([]string{"cpu", "inuse_space", "goroutines"})
		require.NoError(t, err)
		assert.Len(t, types, 3)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := parseProfileTypes([]string{"cpu", "heap"})
		assert.ErrorContains(t, err, "heap")
	})

	t.Run("disabled", func(t *testing.T) {
		stop, err := InitProfiling(ProfilingConfig{})
		require.NoError(t, err)
		assert.False(t, IsProfilingEnabled())
		assert.NoError(t, stop())
	})
}

func TestAttributeHelpers(t *testing.T) {
	cases := []struct {
		attr attribute.KeyValue
		key  string
	}{
		{ClientIP("192.0.2.1"), AttrClientIP},
		{ClientAddr("192.0.2.1:830"), AttrClientAddr},
		{Username("admin"), AttrUsername},
		{SessionID(7), AttrSessionID},
		{MessageID("101"), AttrMessageID},
		{Operation("get-config"), AttrOperation},
		{Framing("chunked"), AttrFraming},
		{ErrorTag("lock-denied"), AttrErrorTag},
		{Outcome(0), AttrOutcome},
		{Datastore("running"), AttrDatastore},
		{State("START"), AttrState},
		{TxnID("abc"), AttrTxnID},
		{StoreType("badger"), AttrStoreType},
		{Bucket("configs"), AttrBucket},
		{StorageKey("running/abc.xml"), AttrKey},
		{Region("eu-west-1"), AttrRegion},
	}
	for _, c := range cases {
		assert.Equal(t, c.key, string(c.attr.Key))
	}

	assert.Equal(t, int64(7), SessionID(7).Value.AsInt64())
	assert.Equal(t, "get-config", Operation("get-config").Value.AsString())
}

// ============================================================================
// Span helpers with a recording provider
// ============================================================================

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev, prevEnabled := Tracer(), IsEnabled()
	setTracer(tp.Tracer("test"), true)
	t.Cleanup(func() {
		setTracer(prev, prevEnabled)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestStartRPCSpan(t *testing.T) {
	rec := withRecorder(t)

	ctx, span := StartRPCSpan(context.Background(), 3, "42", "edit-config", Datastore("running"))
	assert.NotEmpty(t, TraceID(ctx))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, SpanRPC, ended[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, a := range ended[0].Attributes() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, int64(3), attrs[AttrSessionID].AsInt64())
	assert.Equal(t, "42", attrs[AttrMessageID].AsString())
	assert.Equal(t, "edit-config", attrs[AttrOperation].AsString())
	assert.Equal(t, "running", attrs[AttrDatastore].AsString())
}

func TestStartDispatchSpan(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartDispatchSpan(context.Background(), 9, 0)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, SpanDispatchReply, ended[0].Name())
}
