package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/netconfd/pkg/netconf"
	"github.com/marmos91/netconfd/pkg/status"
)

func clientHello(caps ...string) []byte {
	return (&netconf.Hello{Capabilities: caps}).Bytes()
}

// served is a session running Serve and the client end of its channel.
type served struct {
	session *Session
	conn    net.Conn
	client  *netconf.Framer
	done    chan error
}

func startServe(t *testing.T, f *engineFixture, id uint64) *served {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	s := New(id, server, Options{User: "admin", RemoteAddr: "192.0.2.10:40000"})
	f.engine.Registry().Set(id, s)

	sv := &served{session: s, conn: client, client: netconf.NewFramer(client, 0), done: make(chan error, 1)}
	go func() { sv.done <- f.engine.Serve(t.Context(), s) }()
	return sv
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestServeHelloAndChunkedRPC(t *testing.T) {
	f := newFixture(status.Start)
	sv := startServe(t, f, 7)
	s, c, done := sv.session, sv.client, sv.done

	raw, err := c.ReadMessage()
	require.NoError(t, err)
	hello, err := netconf.ParseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", hello.Name())
	assert.Equal(t, "7", hello.ChildText("session-id"))

	require.NoError(t, c.WriteHello(clientHello(netconf.CapabilityBase10, netconf.CapabilityBase11)))
	c.SetFraming(netconf.FramingChunked)

	require.NoError(t, c.WriteMessage(rpc("1", `<commit/>`)))
	reply, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `operation-not-supported`)
	assert.Equal(t, netconf.FramingChunked, s.Framing())

	// malformed input is answered on chunked framing
	require.NoError(t, c.WriteMessage([]byte(`<rpc message-id="2"><get>`)))
	reply, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `malformed-message`)

	require.NoError(t, c.WriteMessage(rpc("3", `<close-session/>`)))
	reply, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `<ok/>`)

	require.NoError(t, waitServe(t, done))
	_, ok := f.engine.Registry().Get(7)
	assert.False(t, ok)
}

func TestServeEOMFraming(t *testing.T) {
	f := newFixture(status.Start)
	sv := startServe(t, f, 1)
	c, done := sv.client, sv.done

	_, err := c.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, c.WriteHello(clientHello(netconf.CapabilityBase10)))

	require.NoError(t, c.WriteMessage(rpc("1", getConfigRunning)))
	require.Eventually(t, func() bool { return f.orders.count() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("MalformedClosesSession", func(t *testing.T) {
		require.NoError(t, c.WriteMessage([]byte(`<rpc message-id="2"><get>`)))
		err := waitServe(t, done)
		assert.ErrorIs(t, err, ErrFatalMessage)
		_, ok := f.engine.Registry().Get(1)
		assert.False(t, ok)
	})
}

func TestServeKillSessionDeregisters(t *testing.T) {
	f := newFixture(status.Start)
	sv := startServe(t, f, 3)
	c, done := sv.client, sv.done

	_, err := c.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, c.WriteHello(clientHello(netconf.CapabilityBase10)))

	require.NoError(t, c.WriteMessage(rpc("1", `<kill-session/>`)))
	reply, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(reply), `<ok/>`)

	require.NoError(t, waitServe(t, done))
	_, ok := f.engine.Registry().Get(3)
	assert.False(t, ok)
}

func TestServeRejectsBadHello(t *testing.T) {
	cases := map[string][]byte{
		"NoCommonBase":  clientHello("urn:example:only"),
		"HasSessionID":  (&netconf.Hello{Capabilities: []string{netconf.CapabilityBase10}, SessionID: 4}).Bytes(),
		"NotAHello":     []byte(`<rpc message-id="1"><get/></rpc>`),
		"NotWellFormed": []byte(`<hello>`),
	}

	for name, hello := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(status.Start)
			sv := startServe(t, f, 1)
			s, c, done := sv.session, sv.client, sv.done

			_, err := c.ReadMessage()
			require.NoError(t, err)
			require.NoError(t, c.WriteHello(hello))

			assert.Error(t, waitServe(t, done))
			assert.False(t, s.IsOpen())
			assert.Equal(t, 0, f.engine.Registry().Len())
		})
	}
}

func TestServeClientDisconnect(t *testing.T) {
	f := newFixture(status.Start)
	sv := startServe(t, f, 1)
	c, done := sv.client, sv.done

	_, err := c.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, c.WriteHello(clientHello(netconf.CapabilityBase10)))

	// locks held by a vanished client are released
	require.NoError(t, c.WriteMessage(rpc("1", `<lock><target><candidate/></target></lock>`)))
	_, err = c.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, sv.conn.Close())

	require.NoError(t, waitServe(t, done))
	_, held := f.engine.Locks().Holder("candidate")
	assert.False(t, held)
}
