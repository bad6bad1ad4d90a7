package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/netconf"
)

// Serve runs s until it closes: the hello exchange, then one HandleMessage
// per inbound message, in arrival order. When Serve returns the session is
// closed, deregistered and its datastore locks are released.
//
// A clean end of stream, close-session and kill-session return nil.
func (e *Engine) Serve(ctx context.Context, s *Session) (err error) {
	lc := s.LogContext()
	ctx = logger.WithContext(ctx, lc)

	defer func() {
		e.finish(ctx, s, err)
	}()

	if err := e.hello(ctx, s); err != nil {
		return err
	}

	for {
		raw, err := s.framer.ReadMessage()
		if err != nil {
			if !s.IsOpen() || isClosedStream(err) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := e.HandleMessage(ctx, s, raw); err != nil {
			return err
		}
		if !s.IsOpen() {
			return nil
		}
	}
}

// hello sends the server hello, reads the client hello and switches the
// session to the negotiated framing.
func (e *Engine) hello(ctx context.Context, s *Session) error {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanHello)
	defer span.End()

	server := &netconf.Hello{Capabilities: e.capabilities, SessionID: s.ID()}
	if err := s.framer.WriteHello(server.Bytes()); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	raw, err := s.framer.ReadMessage()
	if err != nil {
		return fmt.Errorf("read client hello: %w", err)
	}
	client, err := netconf.ParseHello(raw)
	if err != nil {
		return err
	}
	framing, err := netconf.NegotiateFraming(e.capabilities, client)
	if err != nil {
		return err
	}
	s.framer.SetFraming(framing)

	telemetry.SetAttributes(ctx, telemetry.Framing(framing.String()))
	logger.DebugCtx(ctx, "hello exchanged",
		logger.KeyFraming, framing.String(), "client_capabilities", len(client.Capabilities))
	return nil
}

func (e *Engine) finish(ctx context.Context, s *Session, err error) {
	_ = s.Close()
	e.registry.DeleteIf(s.ID(), s)
	if n := e.locks.ReleaseAll(s.ID()); n > 0 {
		logger.DebugCtx(ctx, "released datastore locks", "count", n)
	}

	if e.metrics != nil {
		e.metrics.RecordSessionClosed()
		e.metrics.SetActiveSessions(e.registry.Len())
	}

	switch {
	case err == nil:
		logger.DebugCtx(ctx, "session ended")
	case errors.Is(err, ErrFatalMessage):
		logger.InfoCtx(ctx, "session ended by protocol error", logger.KeyError, err)
	default:
		logger.WarnCtx(ctx, "session ended with error", logger.KeyError, err)
	}
}

func isClosedStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
