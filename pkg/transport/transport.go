// Package transport defines the contract between the NETCONF server core and
// the secure transport that carries it.
//
// A Provider authenticates a raw connection and returns a Transport. A
// Transport multiplexes zero or more Channels, each of which carries one
// NETCONF session. The server core never depends on a concrete transport;
// the SSH implementation lives in transport/sshd.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// ErrAuthentication is returned (wrapped) by Provider.Authenticate when the
// peer could not be authenticated.
var ErrAuthentication = errors.New("transport: authentication failed")

// Provider negotiates and authenticates secure transports.
type Provider interface {
	// Authenticate runs the transport handshake on conn. On failure the
	// caller owns conn and must close it.
	Authenticate(ctx context.Context, conn net.Conn) (Transport, error)
}

// Transport is one authenticated connection.
type Transport interface {
	// AcceptChannel waits up to timeout for the peer to open a NETCONF
	// channel. It returns (nil, nil) when the timeout elapses or the
	// transport stops producing channels.
	AcceptChannel(timeout time.Duration) (Channel, error)

	// IsActive reports whether the transport can still produce channels.
	IsActive() bool

	// Close tears the transport down, closing every channel on it.
	Close() error

	// RemoteAddr is the peer address.
	RemoteAddr() net.Addr

	// User is the authenticated principal.
	User() string
}

// Channel is a bidirectional byte stream carrying one NETCONF session.
type Channel interface {
	io.ReadWriteCloser
}
