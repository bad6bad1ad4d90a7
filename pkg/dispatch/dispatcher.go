// Package dispatch delivers the final replies of asynchronous operations.
//
// The order engine reports each finished transaction by offering a
// Completion. A single consumer goroutine resolves the session, builds the
// rpc-reply from the original request envelope and sends it.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/netconf"
	"github.com/marmos91/netconfd/pkg/session"
)

// DefaultQueueSize is the completion queue capacity used when none is configured.
const DefaultQueueSize = 1024

// ErrClosed is returned by Run once the dispatcher has been closed.
var ErrClosed = errors.New("dispatch: closed")

// Completion is one finished order engine transaction.
type Completion struct {
	Outcome   Outcome
	Envelope  netconf.Envelope
	SessionID uint64
}

// Dispatcher is the single consumer of the completion queue.
type Dispatcher struct {
	registry *session.Registry
	metrics  metrics.NetconfMetrics

	queue chan Completion

	// mu guards closed and sends on queue so that Offer never races Close.
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	once   sync.Once
}

// New returns a dispatcher with a queue of queueSize (DefaultQueueSize if <= 0).
func New(registry *session.Registry, queueSize int, m metrics.NetconfMetrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		registry: registry,
		metrics:  m,
		queue:    make(chan Completion, queueSize),
		stop:     make(chan struct{}),
	}
}

// Offer enqueues a completion without blocking. It returns false when the
// queue is full or the dispatcher is closed; the caller owns any retry.
func (d *Dispatcher) Offer(outcome Outcome, env netconf.Envelope, sessionID uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- Completion{Outcome: outcome, Envelope: env, SessionID: sessionID}:
		if d.metrics != nil {
			d.metrics.SetQueueDepth(len(d.queue))
		}
		return true
	default:
		if d.metrics != nil {
			d.metrics.RecordOfferRejected()
		}
		logger.Warn("Completion queue full, offer rejected",
			logger.KeySessionID, sessionID, logger.KeyOutcome, int(outcome))
		return false
	}
}

// Len returns the number of queued completions.
func (d *Dispatcher) Len() int { return len(d.queue) }

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int { return cap(d.queue) }

// Run consumes completions in FIFO order until ctx is cancelled or Close is
// called. Completions still queued at Close are delivered before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Debug("Reply dispatcher started", "queue_size", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-d.queue:
			d.deliver(ctx, c)
		case <-d.stop:
			d.drain(ctx)
			logger.Debug("Reply dispatcher stopped")
			return ErrClosed
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case c := <-d.queue:
			d.deliver(ctx, c)
		default:
			return
		}
	}
}

// Close stops intake and makes Run return after draining.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
}

func (d *Dispatcher) deliver(ctx context.Context, c Completion) {
	if d.metrics != nil {
		d.metrics.SetQueueDepth(len(d.queue))
	}

	ctx, span := telemetry.StartDispatchSpan(ctx, c.SessionID, int(c.Outcome))
	defer span.End()

	s, ok := d.registry.Get(c.SessionID)
	if !ok {
		logger.Debug("Completion for unknown session dropped",
			logger.KeySessionID, c.SessionID, logger.KeyOutcome, int(c.Outcome))
		d.record(metrics.DispatchSessionGone)
		return
	}

	attrs, err := c.Envelope.Attributes()
	if err == nil {
		if _, hasID := c.Envelope.MessageID(); !hasID {
			err = errors.New("envelope has no message-id")
		}
	}
	if err != nil {
		logger.Warn("Completion with unusable envelope dropped",
			logger.KeySessionID, c.SessionID, logger.KeyError, err)
		telemetry.RecordError(ctx, err)
		d.record(metrics.DispatchInvalidEnvelope)
		return
	}

	reply := netconf.OKReply(attrs)
	if c.Outcome != OutcomeOK {
		reply = netconf.ErrorReply(attrs, netconf.NewOperationFailed(c.Outcome.Reason()))
	}

	if err := s.Send(reply); err != nil {
		logger.Debug("Failed to send completion reply",
			logger.KeySessionID, c.SessionID, logger.KeyError, err)
		telemetry.RecordError(ctx, err)
		d.record(metrics.DispatchSendFailed)
		return
	}

	msgID, _ := c.Envelope.MessageID()
	logger.Debug("Completion delivered",
		logger.KeySessionID, c.SessionID, logger.KeyMessageID, msgID, logger.KeyOutcome, int(c.Outcome))
	d.record(metrics.DispatchReplied)
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(result)
	}
}
