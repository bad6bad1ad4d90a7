package orderengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/dispatch"
	"github.com/marmos91/netconfd/pkg/netconf"
)

type completion struct {
	outcome   dispatch.Outcome
	env       netconf.Envelope
	sessionID uint64
}

// recorder is a Completer that rejects the first `reject` offers.
type recorder struct {
	mu     sync.Mutex
	got    []completion
	reject atomic.Int32
	offers atomic.Int32
	ch     chan completion
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan completion, 64)}
}

func (r *recorder) Offer(outcome dispatch.Outcome, env netconf.Envelope, sessionID uint64) bool {
	r.offers.Add(1)
	if r.reject.Load() > 0 {
		r.reject.Add(-1)
		return false
	}
	c := completion{outcome: outcome, env: env, sessionID: sessionID}
	r.mu.Lock()
	r.got = append(r.got, c)
	r.mu.Unlock()
	r.ch <- c
	return true
}

func (r *recorder) next(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return completion{}
	}
}

func rpc(id, body string) netconf.Envelope {
	return netconf.Envelope(`<rpc xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="` + id + `">` + body + `</rpc>`)
}

// failingArchive fails every call.
type failingArchive struct{}

func (failingArchive) Put(context.Context, string, string, []byte) error {
	return errors.New("disk on fire")
}

func (failingArchive) Latest(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

// ============================================================================
// Execution
// ============================================================================

func TestLocalOutcomes(t *testing.T) {
	archive := NewMemoryArchive()
	rec := newRecorder()
	e := NewLocal(Config{Workers: 1}, archive, rec, nil)
	t.Cleanup(e.Halt)

	tests := []struct {
		name string
		env  netconf.Envelope
		want dispatch.Outcome
	}{
		{"GetConfigRunning", rpc("1", `<get-config><source><running/></source></get-config>`), dispatch.OutcomeOK},
		{"GetConfigUnknownDatastore", rpc("2", `<get-config><source><url/></source></get-config>`), dispatch.OutcomeNotFound},
		{"EditConfigCandidate", rpc("3", `<edit-config><target><candidate/></target><config><top xmlns="urn:x"/></config></edit-config>`), dispatch.OutcomeOK},
		{"EditConfigNoConfig", rpc("4", `<edit-config><target><running/></target></edit-config>`), dispatch.OutcomeInvalidConfig},
		{"EditConfigNoTarget", rpc("5", `<edit-config><config/></edit-config>`), dispatch.OutcomeNotFound},
		{"UnsupportedOperation", rpc("6", `<commit/>`), dispatch.OutcomeInvalidConfig},
		{"GarbageEnvelope", netconf.Envelope(`garbage`), dispatch.OutcomeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, e.Submit(tt.env, 7))
			c := rec.next(t)
			assert.Equal(t, tt.want, c.outcome)
			assert.Equal(t, uint64(7), c.sessionID)
			assert.Equal(t, tt.env, c.env)
		})
	}

	cfg, ok, err := archive.Latest(context.Background(), "candidate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `<top xmlns="urn:x"/>`, string(cfg))
	assert.Equal(t, 0, archive.Revisions("running"))
}

func TestLocalArchiveFailure(t *testing.T) {
	rec := newRecorder()
	e := NewLocal(Config{Workers: 1}, failingArchive{}, rec, nil)
	t.Cleanup(e.Halt)

	require.NoError(t, e.Submit(rpc("1", `<edit-config><target><running/></target><config/></edit-config>`), 1))
	assert.Equal(t, dispatch.OutcomeInternalError, rec.next(t).outcome)

	require.NoError(t, e.Submit(rpc("2", `<get-config><source><running/></source></get-config>`), 1))
	assert.Equal(t, dispatch.OutcomeInternalError, rec.next(t).outcome)
}

func TestLocalRetriesRejectedOffers(t *testing.T) {
	rec := newRecorder()
	rec.reject.Store(3)
	e := NewLocal(Config{Workers: 1, OfferInterval: time.Millisecond}, nil, rec, nil)
	t.Cleanup(e.Halt)

	require.NoError(t, e.Submit(rpc("1", `<get-config><source><running/></source></get-config>`), 1))
	assert.Equal(t, dispatch.OutcomeOK, rec.next(t).outcome)
	assert.Equal(t, int32(4), rec.offers.Load())
}

func TestLocalOfferTimeout(t *testing.T) {
	rec := newRecorder()
	rec.reject.Store(1 << 30)
	e := NewLocal(Config{Workers: 1, OfferInterval: time.Millisecond, OfferTimeout: 20 * time.Millisecond}, nil, rec, nil)

	require.NoError(t, e.Submit(rpc("1", `<get-config><source><running/></source></get-config>`), 1))
	require.Eventually(t, func() bool {
		n, _ := e.OutstandingCount(context.Background())
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
	e.Halt()

	assert.Greater(t, rec.offers.Load(), int32(1))
	assert.Empty(t, rec.got)
}

// ============================================================================
// Capacity and halting
// ============================================================================

// blockingCompleter holds every offer until release is closed.
type blockingCompleter struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingCompleter) Offer(dispatch.Outcome, netconf.Envelope, uint64) bool {
	b.started <- struct{}{}
	<-b.release
	return true
}

func TestLocalCapacity(t *testing.T) {
	bc := &blockingCompleter{release: make(chan struct{}), started: make(chan struct{}, 8)}
	e := NewLocal(Config{Workers: 1, Capacity: 2}, nil, bc, nil)

	env := rpc("1", `<get-config><source><running/></source></get-config>`)

	// The worker takes the first job and blocks on its offer.
	require.NoError(t, e.Submit(env, 1))
	<-bc.started

	assert.True(t, e.HasCapacity())
	require.NoError(t, e.Submit(env, 1))
	require.NoError(t, e.Submit(env, 1))
	assert.False(t, e.HasCapacity())
	assert.ErrorIs(t, e.Submit(env, 1), ErrFull)

	n, err := e.OutstandingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	close(bc.release)
	e.Halt()

	n, _ = e.OutstandingCount(context.Background())
	assert.Equal(t, 0, n)
}

func TestLocalHalt(t *testing.T) {
	rec := newRecorder()
	e := NewLocal(Config{Workers: 2}, nil, rec, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Submit(rpc("1", `<get-config><source><running/></source></get-config>`), 1))
	}
	e.Halt()
	e.Halt()

	assert.Len(t, rec.got, 5)
	assert.False(t, e.HasCapacity())
	assert.ErrorIs(t, e.Submit(rpc("9", `<get/>`), 1), ErrHalted)
}

func TestLocalSetCompleter(t *testing.T) {
	e := NewLocal(Config{Workers: 1}, nil, nil, nil)
	t.Cleanup(e.Halt)

	var got atomic.Int32
	e.SetCompleter(CompleterFunc(func(dispatch.Outcome, netconf.Envelope, uint64) bool {
		got.Add(1)
		return true
	}))

	require.NoError(t, e.Submit(rpc("1", `<get-config><source><running/></source></get-config>`), 1))
	require.Eventually(t, func() bool { return got.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

// ============================================================================
// MemoryArchive
// ============================================================================

func TestMemoryArchive(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArchive()

	_, ok, err := a.Latest(ctx, "running")
	require.NoError(t, err)
	assert.False(t, ok)

	buf := []byte("<a/>")
	require.NoError(t, a.Put(ctx, "running", "t1", buf))
	buf[1] = 'b'
	require.NoError(t, a.Put(ctx, "running", "t2", []byte("<c/>")))

	latest, ok, err := a.Latest(ctx, "running")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<c/>", string(latest))
	assert.Equal(t, 2, a.Revisions("running"))
	assert.Equal(t, "<a/>", string(a.revisions["running"][0].config))
}
