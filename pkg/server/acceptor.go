package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/session"
	"github.com/marmos91/netconfd/pkg/transport"
)

var (
	// ErrAuthentication is returned when the transport could not be
	// authenticated. It wraps transport.ErrAuthentication.
	ErrAuthentication = fmt.Errorf("server: %w", transport.ErrAuthentication)

	// ErrWatchdogExpired is returned when a transport stays idle past the
	// watchdog deadline.
	ErrWatchdogExpired = errors.New("server: watchdog expired")
)

// acceptor turns one accepted connection into registered sessions.
type acceptor struct {
	l      *Listener
	conn   net.Conn
	remote string

	mu        sync.Mutex
	tr        transport.Transport
	stopped   chan struct{}
	closeOnce sync.Once
}

func newAcceptor(l *Listener, conn net.Conn) *acceptor {
	return &acceptor{
		l:       l,
		conn:    conn,
		remote:  conn.RemoteAddr().String(),
		stopped: make(chan struct{}),
	}
}

// stop asks the acceptor to exit and closes its transport, which ends every
// session on it.
func (a *acceptor) stop() {
	a.closeOnce.Do(func() { close(a.stopped) })
	a.mu.Lock()
	tr := a.tr
	a.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	} else {
		_ = a.conn.Close()
	}
}

func (a *acceptor) isStopped() bool {
	select {
	case <-a.stopped:
		return true
	default:
		return false
	}
}

// run authenticates the transport and polls it for channels until the
// transport goes away, the acceptor is stopped or the watchdog expires.
//
// The watchdog is a single deadline checked between polls and pushed forward
// only when a channel is accepted. Open sessions do not hold it off, so a
// transport whose channels go silent is closed once the deadline passes.
func (a *acceptor) run(ctx context.Context) error {
	tr, err := a.l.provider.Authenticate(ctx, a.conn)
	if err != nil {
		_ = a.conn.Close()
		a.l.recordRejected("auth")
		logger.Info("Transport authentication failed", logger.KeyClientIP, a.remote, logger.KeyError, err)
		if errors.Is(err, transport.ErrAuthentication) {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return err
	}

	a.mu.Lock()
	a.tr = tr
	a.mu.Unlock()
	defer func() { _ = tr.Close() }()

	if a.isStopped() {
		return nil
	}

	if a.l.metrics != nil {
		a.l.metrics.RecordTransportAccepted()
	}
	logger.Debug("Transport accepted", logger.KeyClientIP, a.remote, logger.KeyUsername, tr.User())

	cfg := a.l.cfg
	deadline := time.Now().Add(cfg.Watchdog)
	channels := 0

	for {
		if a.isStopped() {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			a.l.recordRejected("watchdog")
			logger.Info("Transport watchdog expired",
				logger.KeyClientIP, a.remote, logger.KeyChannels, channels, "watchdog", cfg.Watchdog)
			return ErrWatchdogExpired
		}

		ch, err := tr.AcceptChannel(min(cfg.PollInterval, remaining))
		if err != nil {
			return fmt.Errorf("accept channel: %w", err)
		}

		if ch == nil {
			if !tr.IsActive() {
				logger.Debug("Transport closed", logger.KeyClientIP, a.remote, logger.KeyChannels, channels)
				return nil
			}
			continue
		}

		channels++
		a.startSession(ctx, tr, ch)
		deadline = time.Now().Add(cfg.Watchdog)
	}
}

func (a *acceptor) startSession(ctx context.Context, tr transport.Transport, ch transport.Channel) {
	l := a.l
	id := l.NextSessionID()
	s := session.New(id, ch, session.Options{
		User:           tr.User(),
		RemoteAddr:     a.remote,
		Transport:      l.cfg.TransportName,
		MaxMessageSize: l.cfg.MaxMessageSize,
	})
	l.registry.Set(id, s)
	if l.metrics != nil {
		l.metrics.RecordSessionOpened()
		l.metrics.SetActiveSessions(l.registry.Len())
	}
	logger.Debug("Session registered", logger.KeySessionID, id, logger.KeyClientIP, a.remote)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.sessions.Serve(ctx, s)
	}()
}
