// Package lifecycle implements the process-wide start/stop state machine of
// the NETCONF server.
//
// The Controller owns the session registry, the protocol engine, the
// Listener and the reply dispatcher. Construction moves the lifecycle status
// from STOP to READY_TO_START (or CHANGE_OVER), Start moves it to START and
// Stop hands over to a background monitor that drains the order engine
// before closing everything and writing STOP.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/dispatch"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/netconf"
	"github.com/marmos91/netconfd/pkg/orderengine"
	"github.com/marmos91/netconfd/pkg/server"
	"github.com/marmos91/netconfd/pkg/session"
	"github.com/marmos91/netconfd/pkg/status"
	"github.com/marmos91/netconfd/pkg/transport"
	"github.com/marmos91/netconfd/pkg/transport/sshd"
)

// DefaultDrainInterval is the outstanding-work poll interval during Stop.
const DefaultDrainInterval = time.Second

var (
	// ErrNotStopped is returned by New when the status is not STOP.
	ErrNotStopped = errors.New("lifecycle: status is not STOP")

	// ErrStopped is returned by Start once the controller has shut down.
	ErrStopped = errors.New("lifecycle: controller stopped")
)

// Reason selects the terminal variant of a stop.
type Reason int

const (
	ReasonNormal Reason = iota
	ReasonChangeOver
)

func (r Reason) String() string {
	if r == ReasonChangeOver {
		return "change-over"
	}
	return "normal"
}

// ParseReason accepts "normal" and "change-over" (or "change_over").
func ParseReason(s string) (Reason, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "", "normal":
		return ReasonNormal, nil
	case "change-over", "changeover":
		return ReasonChangeOver, nil
	default:
		return ReasonNormal, fmt.Errorf("lifecycle: unknown stop reason %q", s)
	}
}

// Params are the values that identify this server instance.
type Params struct {
	// Username and Password are the NETCONF credentials. Password may be a
	// bcrypt hash.
	Username string
	Password string

	// AuthorizedKeys optionally enables public key authentication.
	AuthorizedKeys []byte

	// BindAddress and Port select the listening socket. Port 0 picks a free
	// port; see Addr.
	BindAddress string
	Port        int

	// HostKey is a PEM private key. When empty HostKeyPath is read, and
	// watched for rotation.
	HostKey     []byte
	HostKeyPath string

	// ChangeOver constructs the controller as part of a hand-over: the
	// initial status is CHANGE_OVER instead of READY_TO_START.
	ChangeOver bool
}

// Dependencies are the collaborators and tunables of a Controller.
type Dependencies struct {
	// Status holds the lifecycle status. Required.
	Status status.Store

	// Orders executes forwarded requests. Required. If it has a
	// SetCompleter method the controller installs itself as the completer.
	Orders orderengine.Engine

	// Server tunes the listener. BindAddress and Port come from Params.
	Server server.Config

	// SSH tunes the SSH transport. Credentials come from Params.
	SSH sshd.Config

	// Provider replaces the SSH transport when set.
	Provider transport.Provider

	// DrainInterval is the poll interval while waiting for outstanding work.
	DrainInterval time.Duration

	// QueueSize is the completion queue capacity.
	QueueSize int

	// Capabilities are advertised in addition to the base capabilities.
	Capabilities []string

	// Metrics is optional.
	Metrics metrics.NetconfMetrics
}

type completerSetter interface {
	SetCompleter(orderengine.Completer)
}

// Controller is the lifecycle state machine.
type Controller struct {
	status        status.Store
	orders        orderengine.Engine
	metrics       metrics.NetconfMetrics
	drainInterval time.Duration

	registry   *session.Registry
	engine     *session.Engine
	listener   *server.Listener
	dispatcher *dispatch.Dispatcher
	hostKeys   *sshd.HostKeyManager
	addr       net.Addr

	// mu serialises status transitions and guards reason.
	mu     sync.Mutex
	reason Reason

	stopSignal chan struct{}
	done       chan struct{}
	doneOnce   sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the controller and starts the listener, the dispatcher and the
// stop monitor. The status must be STOP; on any later failure it is reset to
// STOP and the error returned.
func New(ctx context.Context, p Params, deps Dependencies) (_ *Controller, err error) {
	if deps.Status == nil {
		return nil, errors.New("lifecycle: status store is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("lifecycle: order engine is required")
	}

	current, err := deps.Status.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if current != status.Stop {
		return nil, fmt.Errorf("%w: status is %s", ErrNotStopped, current)
	}

	if deps.DrainInterval <= 0 {
		deps.DrainInterval = DefaultDrainInterval
	}

	c := &Controller{
		status:        deps.Status,
		orders:        deps.Orders,
		metrics:       deps.Metrics,
		drainInterval: deps.DrainInterval,
		registry:      session.NewRegistry(),
		stopSignal:    make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	initial := status.ReadyToStart
	if p.ChangeOver {
		initial = status.ChangeOver
	}
	if err := c.write(ctx, initial); err != nil {
		c.cancel()
		return nil, err
	}

	var ln net.Listener
	defer func() {
		if err == nil {
			return
		}
		if ln != nil {
			_ = ln.Close()
		}
		if c.hostKeys != nil {
			c.hostKeys.Stop()
		}
		c.cancel()
		if werr := c.write(context.Background(), status.Stop); werr != nil {
			logger.Error("Failed to revert status after construction failure", logger.KeyError, werr)
		}
	}()

	provider := deps.Provider
	if provider == nil {
		if provider, err = c.sshProvider(p, deps.SSH); err != nil {
			return nil, err
		}
	}

	addr := net.JoinHostPort(p.BindAddress, strconv.Itoa(p.Port))
	if ln, err = net.Listen("tcp", addr); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	c.addr = ln.Addr()

	var caps []string
	if len(deps.Capabilities) > 0 {
		caps = netconf.ServerCapabilities(deps.Capabilities)
	}
	c.engine = session.NewEngine(session.EngineConfig{
		Registry:     c.registry,
		Status:       c.status,
		Orders:       c.orders,
		Capabilities: caps,
		Metrics:      c.metrics,
	})

	srvCfg := deps.Server
	srvCfg.BindAddress, srvCfg.Port = p.BindAddress, p.Port
	c.listener = server.NewListener(srvCfg, provider, c.registry, c.engine, c.metrics)
	c.dispatcher = dispatch.New(c.registry, deps.QueueSize, c.metrics)

	if cs, ok := c.orders.(completerSetter); ok {
		cs.SetCompleter(c)
	}

	c.wg.Add(3)
	go func(l net.Listener) {
		defer c.wg.Done()
		if err := c.listener.ServeListener(c.ctx, l); err != nil {
			logger.Error("NETCONF listener failed", logger.KeyError, err)
		}
	}(ln)
	go func() {
		defer c.wg.Done()
		_ = c.dispatcher.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.monitor()
	}()

	logger.Info("Lifecycle controller ready", logger.KeyState, initial.String(), "address", c.addr.String())
	return c, nil
}

func (c *Controller) sshProvider(p Params, cfg sshd.Config) (transport.Provider, error) {
	keys, err := sshd.NewHostKeyManager(p.HostKey, p.HostKeyPath)
	if err != nil {
		return nil, err
	}
	c.hostKeys = keys
	if err := keys.Start(); err != nil {
		return nil, fmt.Errorf("watch host key: %w", err)
	}

	cfg.Username = p.Username
	cfg.Password = p.Password
	cfg.AuthorizedKeys = p.AuthorizedKeys
	return sshd.NewProvider(cfg, keys)
}

// write records s in every status view. Callers other than New hold mu.
func (c *Controller) write(ctx context.Context, s status.State) error {
	if err := c.status.Write(ctx, s, status.ScopeBoth); err != nil {
		return fmt.Errorf("write status %s: %w", s, err)
	}
	if c.metrics != nil {
		c.metrics.SetLifecycleState(s.String())
	}
	logger.Info("Lifecycle status changed", logger.KeyState, s.String())
	return nil
}

// Start writes START. Configuration requests are accepted from now on.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isDone() {
		return ErrStopped
	}
	return c.write(ctx, status.Start)
}

// Stop records reason and wakes the monitor. It does not block; Done is
// closed once the drain has completed. A stop requested while the status is
// not START is discarded by the monitor.
func (c *Controller) Stop(reason Reason) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()

	select {
	case c.stopSignal <- struct{}{}:
	default:
	}
	logger.Info("Stop requested", logger.KeyReason, reason.String())
}

// Offer hands a finished transaction to the reply dispatcher. It never
// blocks; false means the completion queue is full or closed.
func (c *Controller) Offer(outcome dispatch.Outcome, env netconf.Envelope, sessionID uint64) bool {
	return c.dispatcher.Offer(outcome, env, sessionID)
}

// Done is closed when a stop has drained and STOP has been written.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// monitor waits for stop signals and runs the drain.
func (c *Controller) monitor() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopSignal:
		}
		if c.drain() {
			return
		}
	}
}

// drain performs one stop. It returns false for a stale signal.
func (c *Controller) drain() bool {
	ctx, span := telemetry.StartSpan(c.ctx, telemetry.SpanLifecycleStop)
	defer span.End()

	c.mu.Lock()
	reason := c.reason
	current, err := c.status.Read(ctx)
	if err != nil || current != status.Start {
		c.mu.Unlock()
		logger.Debug("Stale stop request ignored", logger.KeyState, current.String(), logger.KeyError, err)
		return false
	}

	draining := status.ReadyToStop
	if reason == ReasonChangeOver {
		draining = status.ChangeOver
	}
	if err := c.write(ctx, draining); err != nil {
		c.mu.Unlock()
		logger.Error("Failed to enter draining status", logger.KeyError, err)
		telemetry.RecordError(ctx, err)
		return false
	}
	c.mu.Unlock()
	telemetry.SetAttributes(ctx, telemetry.State(draining.String()))

	if !c.waitOutstanding(ctx) {
		return true
	}

	c.orders.Halt()
	c.listener.Close()
	if err := c.listener.Wait(context.Background()); err != nil {
		logger.Warn("Listener did not stop cleanly", logger.KeyError, err)
	}
	c.dispatcher.Close()
	if c.hostKeys != nil {
		c.hostKeys.Stop()
	}

	c.mu.Lock()
	if err := c.write(ctx, status.Stop); err != nil {
		logger.Error("Failed to write final status", logger.KeyError, err)
		telemetry.RecordError(ctx, err)
	}
	c.doneOnce.Do(func() { close(c.done) })
	c.mu.Unlock()

	logger.Info("Lifecycle stopped", logger.KeyReason, reason.String())
	return true
}

// waitOutstanding polls the order engine until nothing is outstanding. It
// has no upper bound; failures are retried on the same interval. It returns
// false only when the controller is closed.
func (c *Controller) waitOutstanding(ctx context.Context) bool {
	ticker := time.NewTicker(c.drainInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		n, err := c.orders.OutstandingCount(ctx)
		switch {
		case err != nil:
			logger.Warn("Order engine unreachable during drain",
				logger.KeyAttempt, attempt, logger.KeyError, err)
		case n == 0:
			return true
		default:
			logger.Debug("Waiting for outstanding transactions", logger.KeyOutstanding, n)
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Close tears everything down without draining and waits for the
// background goroutines. It is meant for aborted starts and for shutdown
// timeouts; Stop is the orderly path.
func (c *Controller) Close() error {
	c.cancel()
	c.listener.Close()
	c.dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.listener.Wait(ctx)
	c.wg.Wait()

	if c.hostKeys != nil {
		c.hostKeys.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isDone() {
		if werr := c.write(context.Background(), status.Stop); werr != nil && err == nil {
			err = werr
		}
		c.doneOnce.Do(func() { close(c.done) })
	}
	return err
}

// ============================================================================
// Introspection
// ============================================================================

// Addr is the bound NETCONF address.
func (c *Controller) Addr() net.Addr { return c.addr }

// Status returns the current lifecycle status.
func (c *Controller) Status(ctx context.Context) (status.State, error) {
	return c.status.Read(ctx)
}

// Registry returns the session registry.
func (c *Controller) Registry() *session.Registry { return c.registry }

// Engine returns the protocol engine, e.g. to register extra handlers.
func (c *Controller) Engine() *session.Engine { return c.engine }

// QueueDepth returns the number of queued completions.
func (c *Controller) QueueDepth() int { return c.dispatcher.Len() }

// Outstanding returns the order engine's outstanding transaction count.
func (c *Controller) Outstanding(ctx context.Context) (int, error) {
	return c.orders.OutstandingCount(ctx)
}
