package session

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/netconf"
	"github.com/marmos91/netconfd/pkg/status"
)

// ErrFatalMessage is returned by HandleMessage when a fault closed the session.
var ErrFatalMessage = errors.New("session: fatal protocol error")

// RPC results recorded in metrics besides error tags.
const (
	resultOK        = "ok"
	resultForwarded = "forwarded"
)

// StatusReader reads the process-wide lifecycle status.
type StatusReader interface {
	Read(ctx context.Context) (status.State, error)
}

// OrderEngine is the asynchronous executor of get-config and edit-config.
type OrderEngine interface {
	// HasCapacity reports whether Submit would currently be accepted.
	HasCapacity() bool

	// Submit hands the rpc envelope over. The reply is delivered later
	// through the reply dispatcher, keyed by sessionID.
	Submit(env netconf.Envelope, sessionID uint64) error
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Registry *Registry
	Status   StatusReader
	Orders   OrderEngine

	// Capabilities is the complete list advertised in the server hello.
	// Empty selects the base capabilities plus netconf.DefaultCapabilities.
	Capabilities []string

	// Metrics is optional.
	Metrics metrics.NetconfMetrics
}

// Engine validates and dispatches the rpcs of every session.
//
// The engine holds no per-session state; HandleMessage must not be called
// concurrently for the same session.
type Engine struct {
	registry     *Registry
	status       StatusReader
	orders       OrderEngine
	handlers     *HandlerTable
	locks        *LockTable
	capabilities []string
	metrics      metrics.NetconfMetrics
}

// NewEngine returns an engine with the built-in get, lock and unlock
// handlers registered.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = netconf.ServerCapabilities(netconf.DefaultCapabilities)
	}

	e := &Engine{
		registry:     cfg.Registry,
		status:       cfg.Status,
		orders:       cfg.Orders,
		handlers:     NewHandlerTable(),
		locks:        NewLockTable(),
		capabilities: caps,
		metrics:      cfg.Metrics,
	}

	// registration of fixed names on an empty table cannot fail
	_ = e.handlers.Register(OpGet, getHandler(e.registry))
	_ = e.handlers.Register(OpLock, lockHandler(e.locks, true))
	_ = e.handlers.Register(OpUnlock, lockHandler(e.locks, false))
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Handlers() *HandlerTable { return e.handlers }

func (e *Engine) Locks() *LockTable { return e.locks }

func (e *Engine) Capabilities() []string { return e.capabilities }

// HandleMessage processes one inbound message on s. It is a no-op once s is
// closed. A non-nil error means the session was closed by a fatal fault or
// could not be written to; protocol faults that leave the session open are
// answered with an rpc-error and return nil.
func (e *Engine) HandleMessage(ctx context.Context, s *Session, raw []byte) error {
	if !s.IsOpen() {
		return nil
	}
	s.rpcs.Add(1)
	start := time.Now()

	rpc, err := netconf.ParseRPC(raw)
	if err != nil {
		return e.fault(ctx, s, nil, "", toRPCError(err), start)
	}

	opNode, err := rpc.Operation()
	if err != nil {
		return e.fault(ctx, s, rpc.Attrs, "", toRPCError(err), start)
	}
	op := opNode.Name()

	lc := s.LogContext().WithRPC(rpc.MessageID, op)
	ctx, span := telemetry.StartRPCSpan(ctx, s.ID(), rpc.MessageID, op)
	defer span.End()
	lc = lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	logger.DebugCtx(ctx, "rpc received", logger.KeyBytes, len(raw))

	switch op {
	case OpCloseSession:
		e.registry.DeleteIf(s.ID(), s)
		e.locks.ReleaseAll(s.ID())
		return e.terminate(ctx, s, rpc, op, start)

	case OpKillSession:
		// the serve loop deregisters once it observes the closed session
		return e.terminate(ctx, s, rpc, op, start)

	case OpGetConfig, OpEditConfig:
		if rerr := e.forward(ctx, s, rpc, opNode); rerr != nil {
			return e.fault(ctx, s, rpc.Attrs, op, rerr, start)
		}
		logger.DebugCtx(ctx, "rpc forwarded to order engine")
		e.record(op, resultForwarded, start)
		return nil

	case OpGet:
		p, rerr := validateParams(opNode, nil, []string{"filter"})
		if rerr == nil {
			rerr = validateFilter(p["filter"])
		}
		if rerr != nil {
			return e.fault(ctx, s, rpc.Attrs, op, rerr, start)
		}
	}

	return e.dispatch(ctx, s, rpc, opNode, start)
}

// terminate answers close-session and kill-session: reply ok, then close.
func (e *Engine) terminate(ctx context.Context, s *Session, rpc *netconf.RPC, op string, start time.Time) error {
	if err := s.Send(netconf.OKReply(rpc.Attrs)); err != nil {
		logger.WarnCtx(ctx, "failed to send reply before closing session", logger.KeyError, err)
	}
	_ = s.Close()
	logger.InfoCtx(ctx, "session terminated by client")
	e.record(op, resultOK, start)
	return nil
}

// forward validates get-config or edit-config, checks the lifecycle status
// and the order engine's admission, and submits the envelope. No reply is
// sent on success.
func (e *Engine) forward(ctx context.Context, s *Session, rpc *netconf.RPC, opNode *netconf.Node) *netconf.RPCError {
	var rerr *netconf.RPCError
	if opNode.Name() == OpGetConfig {
		var p params
		p, rerr = validateParams(opNode, []string{"source"}, []string{"filter"})
		if rerr == nil {
			rerr = validateFilter(p["filter"])
		}
	} else {
		var p params
		p, rerr = validateParams(opNode, []string{"target"},
			[]string{"config", "default-operation", "test-option", "error-option"})
		if rerr == nil {
			rerr = e.checkLock(s, p["target"])
		}
	}
	if rerr != nil {
		return rerr
	}

	if e.status == nil {
		return netconf.NewPreconditionFailure("lifecycle status is unavailable")
	}
	st, err := e.status.Read(ctx)
	if err != nil {
		rerr := netconf.NewPreconditionFailure("lifecycle status is unavailable")
		rerr.Cause = err
		return rerr
	}
	if st != status.Start {
		return netconf.NewPreconditionFailure("server is not accepting configuration requests")
	}

	if e.orders == nil || !e.orders.HasCapacity() {
		return netconf.NewPreconditionFailure("order engine has no capacity")
	}
	if err := e.orders.Submit(rpc.Envelope, s.ID()); err != nil {
		rerr := netconf.NewPreconditionFailure("order engine rejected the request")
		rerr.Cause = err
		return rerr
	}
	return nil
}

// checkLock denies a write to a datastore locked by another session. A
// target that names no single datastore is left for the order engine to
// judge.
func (e *Engine) checkLock(s *Session, target *netconf.Node) *netconf.RPCError {
	ds, rerr := datastoreName(target)
	if rerr != nil {
		return nil
	}
	if holder, held := e.locks.Holder(ds); held && holder != s.ID() {
		return netconf.NewLockDenied(holder)
	}
	return nil
}

// dispatch runs a handler from the table.
func (e *Engine) dispatch(ctx context.Context, s *Session, rpc *netconf.RPC, opNode *netconf.Node, start time.Time) error {
	op := opNode.Name()
	h, ok := e.handlers.Lookup(op)
	if !ok {
		return e.fault(ctx, s, rpc.Attrs, op, netconf.NewNotImplemented(op), start)
	}

	res, err := invoke(ctx, h, &Request{Session: s, RPC: rpc, Operation: opNode})
	if err != nil {
		return e.fault(ctx, s, rpc.Attrs, op, toRPCError(err), start)
	}

	if !res.Replied {
		reply := res.Reply
		if reply == nil {
			reply = netconf.OKReply(rpc.Attrs)
		} else if reply.Attrs == nil {
			reply.Attrs = rpc.Attrs
		}
		if err := s.Send(reply); err != nil {
			e.record(op, "send_failed", start)
			return fmt.Errorf("send reply: %w", err)
		}
	}
	e.record(op, resultOK, start)
	return nil
}

// invoke calls h, turning a panic into an error.
func invoke(ctx context.Context, h Handler, req *Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, req)
}

// fault answers rerr on s, or closes s when rerr is fatal on its framing.
func (e *Engine) fault(ctx context.Context, s *Session, attrs []xml.Attr, op string, rerr *netconf.RPCError, start time.Time) error {
	telemetry.RecordError(ctx, rerr)
	telemetry.SetAttributes(ctx, telemetry.ErrorTag(rerr.Tag))
	e.record(op, rerr.Tag, start)

	if rerr.FatalOn(s.Framing()) {
		logger.WarnCtx(ctx, "fatal protocol error, closing session",
			logger.KeySessionID, s.ID(), logger.KeyErrorTag, rerr.Tag, logger.KeyError, rerr)
		_ = s.Close()
		return fmt.Errorf("%w: %w", ErrFatalMessage, rerr)
	}

	if rerr.Kind == netconf.KindUnexpectedHandlerFailure {
		logger.ErrorCtx(ctx, "rpc handler failed", logger.KeyError, rerr.Cause)
	} else {
		logger.DebugCtx(ctx, "rpc rejected",
			logger.KeyErrorType, rerr.Type, logger.KeyErrorTag, rerr.Tag, logger.KeyError, rerr)
	}

	if err := s.Send(netconf.ErrorReply(attrs, rerr)); err != nil {
		return fmt.Errorf("send rpc-error: %w", err)
	}
	telemetry.SetStatus(ctx, codes.Error, rerr.Tag)
	return nil
}

func (e *Engine) record(op, result string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRPC(e.opLabel(op), result, time.Since(start))
}

// opLabel bounds metric cardinality to operations the server knows.
func (e *Engine) opLabel(op string) string {
	if op == "" {
		return "unknown"
	}
	if reservedOps[op] {
		return op
	}
	if _, ok := e.handlers.Lookup(op); ok {
		return op
	}
	return "other"
}

func toRPCError(err error) *netconf.RPCError {
	if rerr, ok := netconf.AsRPCError(err); ok && rerr != nil {
		return rerr
	}
	return netconf.NewUnexpectedHandlerFailure(err)
}
