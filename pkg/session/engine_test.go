package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/netconf"
	"github.com/marmos91/netconfd/pkg/status"
)

// ============================================================================
// Test fakes
// ============================================================================

type fakeStatus struct {
	mu    sync.Mutex
	state status.State
	err   error
}

func (f *fakeStatus) Read(context.Context) (status.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeStatus) set(s status.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

type submission struct {
	env       netconf.Envelope
	sessionID uint64
}

type fakeOrders struct {
	mu        sync.Mutex
	full      bool
	err       error
	submitted []submission
}

func (f *fakeOrders) HasCapacity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.full
}

func (f *fakeOrders) Submit(env netconf.Envelope, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, submission{env: env, sessionID: id})
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type engineFixture struct {
	engine *Engine
	status *fakeStatus
	orders *fakeOrders
}

func newFixture(state status.State) *engineFixture {
	st := &fakeStatus{state: state}
	orders := &fakeOrders{}
	return &engineFixture{
		engine: NewEngine(EngineConfig{Registry: NewRegistry(), Status: st, Orders: orders}),
		status: st,
		orders: orders,
	}
}

// peer is the client end of a session's channel. Messages written by the
// server are collected on msgs.
type peer struct {
	conn net.Conn
	msgs chan []byte
}

// openSession registers a session on the fixture's registry with the given
// framing already negotiated.
func (f *engineFixture) openSession(t *testing.T, id uint64, framing netconf.Framing) (*Session, *peer) {
	t.Helper()

	server, client := net.Pipe()
	s := New(id, server, Options{User: "admin", RemoteAddr: "192.0.2.10:40000"})
	s.framer.SetFraming(framing)
	f.engine.Registry().Set(id, s)

	p := &peer{conn: client, msgs: make(chan []byte, 16)}
	fr := netconf.NewFramer(client, 0)
	fr.SetFraming(framing)
	go func() {
		defer close(p.msgs)
		for {
			msg, err := fr.ReadMessage()
			if err != nil {
				return
			}
			p.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		_ = client.Close()
		_ = s.Close()
	})
	return s, p
}

func (p *peer) recv(t *testing.T) string {
	t.Helper()
	select {
	case msg, ok := <-p.msgs:
		require.True(t, ok, "channel closed before a reply arrived")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return ""
	}
}

func (p *peer) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case msg, ok := <-p.msgs:
		if ok {
			t.Fatalf("unexpected message: %s", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func rpc(id, body string) []byte {
	return []byte(`<rpc xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="` + id + `">` + body + `</rpc>`)
}

const getConfigRunning = `<get-config><source><running/></source></get-config>`

const editConfigRunning = `<edit-config><target><running/></target>` +
	`<config><interfaces><interface><name>eth0</name></interface></interfaces></config></edit-config>`

// ============================================================================
// Close and kill
// ============================================================================

func TestCloseSession(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 1, netconf.FramingEOM)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("1", `<close-session/>`)))
	reply := p.recv(t)
	assert.Contains(t, reply, `message-id="1"`)
	assert.Contains(t, reply, `<ok/>`)

	assert.Equal(t, StateClosed, s.State())
	_, ok := f.engine.Registry().Get(1)
	assert.False(t, ok)

	t.Run("SecondCallIsNoOp", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("2", `<close-session/>`)))
		p.expectSilence(t)
	})
}

func TestKillSessionLeavesRegistryToCaller(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 4, netconf.FramingEOM)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("9", `<kill-session><session-id>4</session-id></kill-session>`)))
	assert.Contains(t, p.recv(t), `<ok/>`)
	assert.Equal(t, StateClosed, s.State())

	_, ok := f.engine.Registry().Get(4)
	assert.True(t, ok)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("10", `<kill-session/>`)))
	p.expectSilence(t)
}

// ============================================================================
// Forwarded operations
// ============================================================================

func TestForwardGating(t *testing.T) {
	for _, st := range []status.State{status.Stop, status.ReadyToStart, status.ReadyToStop, status.ChangeOver} {
		t.Run("Rejected_"+string(st), func(t *testing.T) {
			f := newFixture(st)
			s, p := f.openSession(t, 1, netconf.FramingEOM)

			require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("5", getConfigRunning)))
			reply := p.recv(t)
			assert.Contains(t, reply, `<error-tag>operation-failed</error-tag>`)
			assert.Contains(t, reply, `message-id="5"`)
			assert.Equal(t, 0, f.orders.count())
			assert.True(t, s.IsOpen())
		})
	}

	t.Run("StatusReadError", func(t *testing.T) {
		f := newFixture(status.Start)
		f.status.err = errors.New("store down")
		s, p := f.openSession(t, 1, netconf.FramingEOM)

		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("5", editConfigRunning)))
		assert.Contains(t, p.recv(t), `<error-type>application</error-type>`)
		assert.Equal(t, 0, f.orders.count())
	})

	t.Run("NoCapacity", func(t *testing.T) {
		f := newFixture(status.Start)
		f.orders.full = true
		s, p := f.openSession(t, 1, netconf.FramingEOM)

		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("6", editConfigRunning)))
		assert.Contains(t, p.recv(t), `order engine has no capacity`)
		assert.Equal(t, 0, f.orders.count())
	})

	t.Run("SubmitError", func(t *testing.T) {
		f := newFixture(status.Start)
		f.orders.err = errors.New("halted")
		s, p := f.openSession(t, 1, netconf.FramingEOM)

		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("6", getConfigRunning)))
		assert.Contains(t, p.recv(t), `<error-tag>operation-failed</error-tag>`)
	})
}

func TestForwardSubmitsEnvelopeOnce(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 3, netconf.FramingEOM)

	raw := rpc("11", editConfigRunning)
	require.NoError(t, f.engine.HandleMessage(t.Context(), s, raw))
	p.expectSilence(t)

	require.Equal(t, 1, f.orders.count())
	assert.Equal(t, netconf.Envelope(raw), f.orders.submitted[0].env)
	assert.Equal(t, uint64(3), f.orders.submitted[0].sessionID)

	t.Run("GetConfigWithFilter", func(t *testing.T) {
		body := `<get-config><source><running/></source><filter type="subtree"><interfaces/></filter></get-config>`
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("12", body)))
		p.expectSilence(t)
		assert.Equal(t, 2, f.orders.count())
	})

	t.Run("EditConfigOptionalParameters", func(t *testing.T) {
		body := `<edit-config><target><candidate/></target><default-operation>merge</default-operation>` +
			`<test-option>set</test-option><config/></edit-config>`
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("13", body)))
		p.expectSilence(t)
		assert.Equal(t, 3, f.orders.count())
	})
}

func TestParameterValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		tag  string
		bad  string
	}{
		{"GetConfigMissingSource", `<get-config><filter/></get-config>`, "missing-element", "source"},
		{"GetConfigUnknownChild", `<get-config><source><running/></source><target/></get-config>`, "unknown-element", "target"},
		{"GetConfigDuplicateFilter", `<get-config><source><running/></source><filter/><filter/></get-config>`, "unknown-element", "filter"},
		{"GetConfigBadFilterType", `<get-config><source><running/></source><filter type="regex"/></get-config>`, "invalid-value", ""},
		{"EditConfigMissingTarget", `<edit-config><config/></edit-config>`, "missing-element", "target"},
		{"EditConfigUnknownChild", `<edit-config><target><running/></target><source/></edit-config>`, "unknown-element", "source"},
		{"GetUnknownChild", `<get><source/></get>`, "unknown-element", "source"},
		{"GetXPathWithoutSelect", `<get><filter type="xpath"/></get>`, "missing-element", "select"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(status.Start)
			s, p := f.openSession(t, 1, netconf.FramingEOM)

			require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("20", tc.body)))
			reply := p.recv(t)
			assert.Contains(t, reply, "<error-tag>"+tc.tag+"</error-tag>")
			if tc.bad != "" {
				assert.Contains(t, reply, "<bad-element>"+tc.bad+"</bad-element>")
			}
			assert.Equal(t, 0, f.orders.count())
			assert.True(t, s.IsOpen())
		})
	}
}

// ============================================================================
// Handler table dispatch
// ============================================================================

func TestUnregisteredOperation(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 2, netconf.FramingEOM)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("30", `<commit/>`)))
	reply := p.recv(t)
	assert.Contains(t, reply, `<error-tag>operation-not-supported</error-tag>`)
	assert.Contains(t, reply, `message-id="30"`)

	assert.True(t, s.IsOpen())
	_, ok := f.engine.Registry().Get(2)
	assert.True(t, ok)
}

func TestRegisteredHandlers(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 1, netconf.FramingEOM)
	tbl := f.engine.Handlers()

	require.NoError(t, tbl.Register("ok-op", HandlerFunc(func(context.Context, *Request) (Result, error) {
		return Result{}, nil
	})))
	require.NoError(t, tbl.Register("data-op", HandlerFunc(func(_ context.Context, req *Request) (Result, error) {
		return Result{Reply: netconf.DataReply(nil, []byte(`<x/>`))}, nil
	})))
	require.NoError(t, tbl.Register("self-reply", HandlerFunc(func(_ context.Context, req *Request) (Result, error) {
		return Result{Replied: true}, req.Session.Send(netconf.OKReply(req.RPC.Attrs))
	})))
	require.NoError(t, tbl.Register("fails", HandlerFunc(func(context.Context, *Request) (Result, error) {
		return Result{}, errors.New("secret backend detail")
	})))
	require.NoError(t, tbl.Register("denies", HandlerFunc(func(context.Context, *Request) (Result, error) {
		return Result{}, netconf.NewInvalidValue("nope")
	})))
	require.NoError(t, tbl.Register("panics", HandlerFunc(func(context.Context, *Request) (Result, error) {
		panic("boom")
	})))

	t.Run("DefaultsToOK", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("1", `<ok-op/>`)))
		assert.Equal(t,
			`<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1"><ok/></rpc-reply>`,
			p.recv(t))
	})

	t.Run("ReplyGetsRPCAttributes", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("2", `<data-op/>`)))
		reply := p.recv(t)
		assert.Contains(t, reply, `message-id="2"`)
		assert.Contains(t, reply, `<data><x/></data>`)
	})

	t.Run("AlreadyReplied", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("3", `<self-reply/>`)))
		assert.Contains(t, p.recv(t), `message-id="3"`)
		p.expectSilence(t)
	})

	t.Run("UnexpectedFailureHidesCause", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("4", `<fails/>`)))
		reply := p.recv(t)
		assert.Contains(t, reply, `<error-type>application</error-type>`)
		assert.NotContains(t, reply, "secret backend detail")
	})

	t.Run("HandlerFault", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("5", `<denies/>`)))
		assert.Contains(t, p.recv(t), `<error-tag>invalid-value</error-tag>`)
	})

	t.Run("PanicIsRecovered", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("6", `<panics/>`)))
		assert.Contains(t, p.recv(t), `<error-tag>operation-failed</error-tag>`)
		assert.True(t, s.IsOpen())
	})
}

// ============================================================================
// Malformed input
// ============================================================================

func TestMalformedMessage(t *testing.T) {
	payloads := map[string]string{
		"NotXML":       `<rpc message-id="1"><get>`,
		"WrongRoot":    `<hello message-id="1"/>`,
		"NoMessageID":  `<rpc><get/></rpc>`,
		"TwoOperation": `<rpc message-id="1"><get/><get/></rpc>`,
		"NoOperation":  `<rpc message-id="1"></rpc>`,
	}

	for name, payload := range payloads {
		t.Run(name+"/EOMCloses", func(t *testing.T) {
			f := newFixture(status.Start)
			s, _ := f.openSession(t, 1, netconf.FramingEOM)

			err := f.engine.HandleMessage(t.Context(), s, []byte(payload))
			assert.ErrorIs(t, err, ErrFatalMessage)
			assert.Equal(t, StateClosed, s.State())
		})

		t.Run(name+"/ChunkedReplies", func(t *testing.T) {
			f := newFixture(status.Start)
			s, p := f.openSession(t, 1, netconf.FramingChunked)

			require.NoError(t, f.engine.HandleMessage(t.Context(), s, []byte(payload)))
			assert.Contains(t, p.recv(t), `<error-tag>malformed-message</error-tag>`)
			assert.True(t, s.IsOpen())
		})
	}
}

func TestBadMessageReferencesRPC(t *testing.T) {
	f := newFixture(status.Start)
	s, p := f.openSession(t, 1, netconf.FramingChunked)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("8", `<get/><get-config/>`)))
	reply := p.recv(t)
	assert.Contains(t, reply, `message-id="8"`)
	assert.Contains(t, reply, `<bad-element>rpc</bad-element>`)
}

// ============================================================================
// Built-in handlers
// ============================================================================

func TestBuiltinGet(t *testing.T) {
	f := newFixture(status.Stop)
	s, p := f.openSession(t, 1, netconf.FramingEOM)
	f.openSession(t, 2, netconf.FramingChunked)

	t.Run("NoFilter", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("1", `<get/>`)))
		reply := p.recv(t)
		assert.Contains(t, reply, `<netconf-state xmlns="`+MonitoringNamespace+`">`)
		assert.Contains(t, reply, `<session-id>1</session-id>`)
		assert.Contains(t, reply, `<session-id>2</session-id>`)
		assert.Contains(t, reply, `<username>admin</username>`)
		assert.Contains(t, reply, `<source-host>192.0.2.10</source-host>`)
	})

	t.Run("FilterSelectsOtherSubtree", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("2", `<get><filter><interfaces/></filter></get>`)))
		reply := p.recv(t)
		assert.Contains(t, reply, `<data></data>`)
	})

	t.Run("XPathFilter", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), s,
			rpc("3", `<get><filter type="xpath" select="/netconf-state/sessions"/></get>`)))
		assert.Contains(t, p.recv(t), `<sessions>`)
	})
}

func TestBuiltinLocks(t *testing.T) {
	f := newFixture(status.Start)
	a, pa := f.openSession(t, 1, netconf.FramingEOM)
	b, pb := f.openSession(t, 2, netconf.FramingEOM)

	lock := `<lock><target><running/></target></lock>`
	unlock := `<unlock><target><running/></target></unlock>`

	require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("1", lock)))
	assert.Contains(t, pa.recv(t), `<ok/>`)

	require.NoError(t, f.engine.HandleMessage(t.Context(), b, rpc("1", lock)))
	reply := pb.recv(t)
	assert.Contains(t, reply, `<error-tag>lock-denied</error-tag>`)
	assert.Contains(t, reply, `<session-id>1</session-id>`)

	require.NoError(t, f.engine.HandleMessage(t.Context(), b, rpc("2", unlock)))
	assert.Contains(t, pb.recv(t), `<error-tag>operation-failed</error-tag>`)

	require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("2", unlock)))
	assert.Contains(t, pa.recv(t), `<ok/>`)

	t.Run("UnknownDatastore", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("3", `<lock><target><bogus/></target></lock>`)))
		assert.Contains(t, pa.recv(t), `<error-tag>invalid-value</error-tag>`)
	})

	t.Run("CloseSessionReleasesLocks", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("4", lock)))
		assert.Contains(t, pa.recv(t), `<ok/>`)
		require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("5", `<close-session/>`)))
		assert.Contains(t, pa.recv(t), `<ok/>`)

		_, held := f.engine.Locks().Holder("running")
		assert.False(t, held)
	})
}

func TestEditConfigRespectsLocks(t *testing.T) {
	f := newFixture(status.Start)
	a, pa := f.openSession(t, 1, netconf.FramingEOM)
	b, pb := f.openSession(t, 2, netconf.FramingEOM)

	require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("1", `<lock><target><running/></target></lock>`)))
	assert.Contains(t, pa.recv(t), `<ok/>`)

	t.Run("OtherSessionDenied", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), b, rpc("2", editConfigRunning)))
		reply := pb.recv(t)
		assert.Contains(t, reply, `<error-tag>lock-denied</error-tag>`)
		assert.Contains(t, reply, `<session-id>1</session-id>`)
		assert.Equal(t, 0, f.orders.count())
	})

	t.Run("HolderForwarded", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), a, rpc("3", editConfigRunning)))
		pa.expectSilence(t)
		assert.Equal(t, 1, f.orders.count())
	})

	t.Run("ReadsNotBlocked", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), b, rpc("4", getConfigRunning)))
		pb.expectSilence(t)
		assert.Equal(t, 2, f.orders.count())
	})

	t.Run("UnlockedDatastoreWritable", func(t *testing.T) {
		require.NoError(t, f.engine.HandleMessage(t.Context(), b,
			rpc("5", `<edit-config><target><candidate/></target><config/></edit-config>`)))
		pb.expectSilence(t)
		assert.Equal(t, 3, f.orders.count())
	})
}

func TestStatusChangeIsObservedPerRequest(t *testing.T) {
	f := newFixture(status.ReadyToStart)
	s, p := f.openSession(t, 1, netconf.FramingEOM)

	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("1", getConfigRunning)))
	assert.True(t, strings.Contains(p.recv(t), "rpc-error"))

	f.status.set(status.Start)
	require.NoError(t, f.engine.HandleMessage(t.Context(), s, rpc("2", getConfigRunning)))
	p.expectSilence(t)
	assert.Equal(t, 1, f.orders.count())
}
