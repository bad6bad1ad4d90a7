// Package session implements NETCONF sessions: the per-channel protocol
// state, the process-wide session registry, and the protocol engine that
// validates and dispatches inbound rpcs.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/netconf"
)

// ErrSessionClosed is returned by Send once the session has been closed.
var ErrSessionClosed = errors.New("session: closed")

// State is the protocol state of a session.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Options carries the per-session values known when the channel is accepted.
type Options struct {
	// User is the principal authenticated by the transport.
	User string

	// RemoteAddr is the transport peer address.
	RemoteAddr string

	// Transport names the carrier, e.g. "ssh".
	Transport string

	// MaxMessageSize bounds inbound messages; zero selects the default.
	MaxMessageSize int
}

// Session is one logical NETCONF exchange over a transport channel.
//
// Send is safe for concurrent use: the read loop and the reply dispatcher
// both write to the same session.
type Session struct {
	id       uint64
	ch       io.ReadWriteCloser
	framer   *netconf.Framer
	opts     Options
	openedAt time.Time

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	rpcs atomic.Uint64
}

// New wraps ch in an OPEN session with end-of-message framing. Framing is
// switched by the hello exchange in Serve.
func New(id uint64, ch io.ReadWriteCloser, opts Options) *Session {
	s := &Session{
		id:       id,
		ch:       ch,
		framer:   netconf.NewFramer(ch, opts.MaxMessageSize),
		opts:     opts,
		openedAt: time.Now(),
	}
	s.state.Store(int32(StateOpen))
	return s
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) IsOpen() bool { return s.State() == StateOpen }

func (s *Session) Framing() netconf.Framing { return s.framer.Framing() }

func (s *Session) User() string { return s.opts.User }

func (s *Session) RemoteAddr() string { return s.opts.RemoteAddr }

// Send writes reply on the session's channel.
func (s *Session) Send(reply *netconf.Reply) error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}
	return s.framer.WriteMessage(reply.Bytes())
}

// Close transitions the session to CLOSED and closes the channel. Only the
// first call closes; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.closeErr = s.ch.Close()
		logger.Debug("Session closed", logger.KeySessionID, s.id)
	})
	return s.closeErr
}

// LogContext returns a logging context describing the session.
func (s *Session) LogContext() *logger.LogContext {
	return logger.NewLogContext(s.id, s.opts.RemoteAddr, s.opts.User)
}

// Info is a point-in-time description of a session.
type Info struct {
	ID         uint64    `json:"id"`
	User       string    `json:"user"`
	RemoteAddr string    `json:"remote_addr"`
	Transport  string    `json:"transport"`
	Framing    string    `json:"framing"`
	OpenedAt   time.Time `json:"opened_at"`
	RPCs       uint64    `json:"rpcs"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		User:       s.opts.User,
		RemoteAddr: s.opts.RemoteAddr,
		Transport:  s.opts.Transport,
		Framing:    s.Framing().String(),
		OpenedAt:   s.openedAt,
		RPCs:       s.rpcs.Load(),
	}
}

// SourceHost returns the host part of the remote address.
func (s *Session) SourceHost() string {
	if host, _, err := net.SplitHostPort(s.opts.RemoteAddr); err == nil {
		return host
	}
	return s.opts.RemoteAddr
}
