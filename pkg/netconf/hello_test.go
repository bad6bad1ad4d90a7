package netconf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientHello(caps ...string) string {
	var b strings.Builder
	b.WriteString(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities>`)
	for _, c := range caps {
		b.WriteString("<capability>" + c + "</capability>")
	}
	b.WriteString("</capabilities></hello>")
	return b.String()
}

func TestServerHello(t *testing.T) {
	t.Run("BaseCapabilitiesFirstWithoutDuplicates", func(t *testing.T) {
		caps := ServerCapabilities([]string{CapabilityCandidate, CapabilityBase10, "", CapabilityCandidate})
		assert.Equal(t, []string{CapabilityBase10, CapabilityBase11, CapabilityCandidate}, caps)
	})

	t.Run("RendersSessionID", func(t *testing.T) {
		out := string((&Hello{Capabilities: ServerCapabilities(nil), SessionID: 42}).Bytes())

		assert.Contains(t, out, "<session-id>42</session-id>")
		assert.Contains(t, out, "<capability>"+CapabilityBase11+"</capability>")

		root, err := ParseDocument([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, "hello", root.Name())
		assert.Equal(t, "42", root.ChildText("session-id"))
	})
}

func TestParseHello(t *testing.T) {
	t.Run("CollectsCapabilities", func(t *testing.T) {
		h, err := ParseHello([]byte(clientHello(" "+CapabilityBase10+"\n", CapabilityBase11)))
		require.NoError(t, err)
		assert.Equal(t, []string{CapabilityBase10, CapabilityBase11}, h.Capabilities)
		assert.True(t, h.Has(CapabilityBase11))
	})

	t.Run("RejectsSessionID", func(t *testing.T) {
		raw := strings.Replace(clientHello(CapabilityBase10), "</hello>", "<session-id>3</session-id></hello>", 1)
		_, err := ParseHello([]byte(raw))
		assert.ErrorIs(t, err, ErrHelloHasSessionID)
	})

	t.Run("RejectsEmptyCapabilities", func(t *testing.T) {
		_, err := ParseHello([]byte(clientHello()))
		assert.ErrorIs(t, err, ErrHelloInvalid)
	})

	t.Run("RejectsOtherRoot", func(t *testing.T) {
		_, err := ParseHello([]byte(`<rpc message-id="1"><get/></rpc>`))
		assert.ErrorIs(t, err, ErrHelloInvalid)
	})
}

func TestNegotiateFraming(t *testing.T) {
	server := ServerCapabilities(nil)

	t.Run("ChunkedWhenBothSpeak11", func(t *testing.T) {
		f, err := NegotiateFraming(server, &Hello{Capabilities: []string{CapabilityBase10, CapabilityBase11}})
		require.NoError(t, err)
		assert.Equal(t, FramingChunked, f)
	})

	t.Run("EOMForLegacyClient", func(t *testing.T) {
		f, err := NegotiateFraming(server, &Hello{Capabilities: []string{CapabilityBase10}})
		require.NoError(t, err)
		assert.Equal(t, FramingEOM, f)
	})

	t.Run("EOMWhenServerLacks11", func(t *testing.T) {
		f, err := NegotiateFraming([]string{CapabilityBase10}, &Hello{Capabilities: []string{CapabilityBase10, CapabilityBase11}})
		require.NoError(t, err)
		assert.Equal(t, FramingEOM, f)
	})

	t.Run("NoCommonBase", func(t *testing.T) {
		_, err := NegotiateFraming(server, &Hello{Capabilities: []string{CapabilityCandidate}})
		assert.ErrorIs(t, err, ErrNoCommonBase)
	})
}
