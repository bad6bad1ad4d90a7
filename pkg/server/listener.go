// Package server owns the TCP side of the NETCONF server: the Listener
// accepts connections and hands each one to an acceptor, which
// authenticates the transport and turns its channels into registered
// sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/ratelimiter"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/session"
	"github.com/marmos91/netconfd/pkg/transport"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultPort         = 830
	DefaultWatchdog     = 60 * time.Second
	DefaultPollInterval = time.Second
)

// Config holds the listener settings.
type Config struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. Zero picks a free port, which Addr reports.
	Port int

	// MaxConnections limits concurrent transports. 0 means unlimited.
	MaxConnections int

	// AcceptRate limits new transports per second. 0 means unlimited.
	AcceptRate  float64
	AcceptBurst int

	// Watchdog bounds how long an idle transport is kept open without
	// producing a channel.
	Watchdog time.Duration

	// PollInterval is the per-iteration channel wait, the granularity at
	// which the watchdog and stop requests are observed.
	PollInterval time.Duration

	// MaxMessageSize bounds inbound NETCONF messages.
	MaxMessageSize int

	// TransportName labels sessions, e.g. "ssh".
	TransportName string
}

func (c *Config) applyDefaults() {
	if c.Watchdog <= 0 {
		c.Watchdog = DefaultWatchdog
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval > c.Watchdog {
		c.PollInterval = c.Watchdog
	}
	if c.TransportName == "" {
		c.TransportName = "ssh"
	}
}

// SessionServer runs the protocol on one session until it ends.
// *session.Engine implements it.
type SessionServer interface {
	Serve(ctx context.Context, s *session.Session) error
}

// Listener is the top-level accept loop.
//
// Thread safety:
// All exported methods are safe for concurrent use. Close is idempotent.
type Listener struct {
	cfg      Config
	provider transport.Provider
	registry *session.Registry
	sessions SessionServer
	metrics  metrics.NetconfMetrics
	limiter  *ratelimiter.RateLimiter

	listenerMu sync.RWMutex
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once

	nextID atomic.Uint64

	// acceptors is the set of live acceptors, guarded by acceptorsMu.
	acceptorsMu sync.Mutex
	acceptors   map[*acceptor]struct{}

	connSemaphore chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc

	// wg tracks the accept loop, every acceptor and every session goroutine.
	wg      sync.WaitGroup
	serving atomic.Bool
}

// NewListener creates a stopped listener. Call Serve to start it.
func NewListener(cfg Config, provider transport.Provider, registry *session.Registry,
	sessions SessionServer, m metrics.NetconfMetrics) *Listener {
	cfg.applyDefaults()

	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:           cfg,
		provider:      provider,
		registry:      registry,
		sessions:      sessions,
		metrics:       m,
		limiter:       ratelimiter.New(cfg.AcceptRate, cfg.AcceptBurst),
		ready:         make(chan struct{}),
		acceptors:     make(map[*acceptor]struct{}),
		connSemaphore: sem,
		shutdown:      make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// NextSessionID allocates a process-unique session id. Ids start at 1 and
// are never reused.
func (l *Listener) NextSessionID() uint64 {
	return l.nextID.Add(1)
}

// Serve binds the configured address and runs the accept loop until Close
// is called or ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(l.cfg.BindAddress, fmt.Sprint(l.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.readyOnce.Do(func() { close(l.ready) })
		return fmt.Errorf("failed to create NETCONF listener on %s: %w", addr, err)
	}
	return l.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop on an existing listener, which it
// takes ownership of.
func (l *Listener) ServeListener(ctx context.Context, ln net.Listener) error {
	if !l.serving.CompareAndSwap(false, true) {
		_ = ln.Close()
		return errors.New("server: listener already serving")
	}

	l.listenerMu.Lock()
	l.listener = ln
	l.listenerMu.Unlock()
	l.readyOnce.Do(func() { close(l.ready) })

	select {
	case <-l.shutdown:
		// Closed before we started.
		_ = ln.Close()
		return nil
	default:
	}

	l.wg.Add(1)
	defer l.wg.Done()

	logger.Info("NETCONF server listening", "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, l.Close)
	defer stop()

	for {
		if l.connSemaphore != nil {
			select {
			case l.connSemaphore <- struct{}{}:
			case <-l.shutdown:
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			l.release()
			select {
			case <-l.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("Error accepting NETCONF connection", logger.KeyError, err)
			continue
		}

		if !l.limiter.Allow() {
			logger.Warn("Connection rejected by accept rate limit", logger.KeyClientIP, conn.RemoteAddr().String())
			_ = conn.Close()
			l.release()
			l.recordRejected("rate_limited")
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		a := newAcceptor(l, conn)
		if !l.track(a) {
			_ = conn.Close()
			l.release()
			return nil
		}

		go func() {
			defer l.wg.Done()
			defer l.release()
			defer l.untrack(a)
			if err := a.run(l.ctx); err != nil {
				logger.Debug("Acceptor ended", logger.KeyClientIP, a.remote, logger.KeyError, err)
			}
		}()
	}
}

func (l *Listener) release() {
	if l.connSemaphore != nil {
		<-l.connSemaphore
	}
}

// track adds a to the live set. It fails once shutdown has started so that
// Close never misses an acceptor.
func (l *Listener) track(a *acceptor) bool {
	l.acceptorsMu.Lock()
	defer l.acceptorsMu.Unlock()
	select {
	case <-l.shutdown:
		return false
	default:
	}
	l.acceptors[a] = struct{}{}
	l.wg.Add(1)
	n := len(l.acceptors)
	if l.metrics != nil {
		l.metrics.SetActiveTransports(n)
	}
	return true
}

func (l *Listener) untrack(a *acceptor) {
	l.acceptorsMu.Lock()
	delete(l.acceptors, a)
	n := len(l.acceptors)
	l.acceptorsMu.Unlock()
	if l.metrics != nil {
		l.metrics.SetActiveTransports(n)
	}
}

// ActiveAcceptors returns the number of live acceptors.
func (l *Listener) ActiveAcceptors() int {
	l.acceptorsMu.Lock()
	defer l.acceptorsMu.Unlock()
	return len(l.acceptors)
}

// Addr blocks until the listener is bound and returns its address, or nil if
// binding failed.
func (l *Listener) Addr() net.Addr {
	<-l.ready
	l.listenerMu.RLock()
	defer l.listenerMu.RUnlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Close stops accepting, tells every live acceptor to stop and cancels the
// context sessions run under. It does not wait; use Wait.
func (l *Listener) Close() {
	l.shutdownOnce.Do(func() {
		l.acceptorsMu.Lock()
		close(l.shutdown)
		live := make([]*acceptor, 0, len(l.acceptors))
		for a := range l.acceptors {
			live = append(live, a)
		}
		l.acceptorsMu.Unlock()

		l.listenerMu.Lock()
		if l.listener != nil {
			if err := l.listener.Close(); err != nil {
				logger.Debug("Error closing NETCONF listener", logger.KeyError, err)
			}
		}
		l.listenerMu.Unlock()
		l.readyOnce.Do(func() { close(l.ready) })

		for _, a := range live {
			a.stop()
		}
		l.cancel()
		logger.Info("NETCONF listener closed", "acceptors", len(live))
	})
}

// Wait blocks until the accept loop, every acceptor and every session has
// finished, or ctx is done.
func (l *Listener) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) recordRejected(reason string) {
	if l.metrics != nil {
		l.metrics.RecordTransportRejected(reason)
	}
}
