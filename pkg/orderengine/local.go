package orderengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/dispatch"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/netconf"
)

// Defaults applied by NewLocal for zero-valued Config fields.
const (
	DefaultCapacity      = 256
	DefaultWorkers       = 4
	DefaultOfferInterval = 10 * time.Millisecond
	DefaultOfferTimeout  = 30 * time.Second
)

var datastores = map[string]bool{"running": true, "candidate": true, "startup": true}

// Config configures a Local engine.
type Config struct {
	// Capacity bounds the number of submitted but unstarted transactions.
	Capacity int

	// Workers is the number of transactions executed concurrently.
	Workers int

	// OfferInterval is the initial wait between rejected completion offers.
	OfferInterval time.Duration

	// OfferTimeout bounds how long one completion is retried before it is
	// dropped.
	OfferTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.OfferInterval <= 0 {
		c.OfferInterval = DefaultOfferInterval
	}
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = DefaultOfferTimeout
	}
}

type job struct {
	txnID     string
	env       netconf.Envelope
	sessionID uint64
}

// Local is an in-process Engine. get-config reads and edit-config writes go
// to an Archive; results are reported through a Completer.
type Local struct {
	cfg       Config
	archive   Archive
	completer Completer
	metrics   metrics.NetconfMetrics

	mu      sync.RWMutex
	halted  bool
	intake  chan job
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Engine = (*Local)(nil)

// NewLocal starts cfg.Workers workers. completer may be set later with
// SetCompleter but must be set before the first Submit.
func NewLocal(cfg Config, archive Archive, completer Completer, m metrics.NetconfMetrics) *Local {
	cfg.applyDefaults()
	if archive == nil {
		archive = NewMemoryArchive()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Local{
		cfg:       cfg,
		archive:   archive,
		completer: completer,
		metrics:   m,
		intake:    make(chan job, cfg.Capacity),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

// SetCompleter installs the completion sink.
func (e *Local) SetCompleter(c Completer) {
	e.mu.Lock()
	e.completer = c
	e.mu.Unlock()
}

func (e *Local) HasCapacity() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.halted && len(e.intake) < cap(e.intake)
}

func (e *Local) Submit(env netconf.Envelope, sessionID uint64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.halted {
		return ErrHalted
	}

	j := job{txnID: uuid.NewString(), env: env, sessionID: sessionID}
	e.pending.Add(1)
	select {
	case e.intake <- j:
		e.reportOutstanding()
		logger.Debug("Transaction submitted", logger.KeyTxnID, j.txnID, logger.KeySessionID, sessionID)
		return nil
	default:
		e.pending.Add(-1)
		return ErrFull
	}
}

func (e *Local) OutstandingCount(context.Context) (int, error) {
	return int(e.pending.Load()), nil
}

// Halt stops intake, lets workers finish every queued transaction and then
// returns. It is safe to call more than once.
func (e *Local) Halt() {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return
	}
	e.halted = true
	close(e.intake)
	e.mu.Unlock()

	e.wg.Wait()
	e.cancel()
	logger.Info("Order engine halted")
}

func (e *Local) work() {
	defer e.wg.Done()
	for j := range e.intake {
		e.run(j)
	}
}

func (e *Local) run(j job) {
	ctx, span := telemetry.StartSpan(e.ctx, telemetry.SpanTransaction,
		trace.WithAttributes(telemetry.TxnID(j.txnID), telemetry.SessionID(j.sessionID)))
	defer span.End()

	start := time.Now()
	outcome := e.execute(ctx, j)
	telemetry.SetAttributes(ctx, telemetry.Outcome(int(outcome)))

	logger.Debug("Transaction finished",
		logger.KeyTxnID, j.txnID,
		logger.KeySessionID, j.sessionID,
		logger.KeyOutcome, outcome.String(),
		logger.KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0)

	e.complete(ctx, j, outcome)
	e.pending.Add(-1)
	e.reportOutstanding()
}

// execute applies one forwarded operation.
func (e *Local) execute(ctx context.Context, j job) dispatch.Outcome {
	rpc, err := netconf.ParseRPC(j.env)
	if err != nil {
		return dispatch.OutcomeInvalidConfig
	}
	op, err := rpc.Operation()
	if err != nil {
		return dispatch.OutcomeInvalidConfig
	}

	switch op.Name() {
	case "get-config":
		ds, ok := datastoreOf(op.Child("source"))
		if !ok {
			return dispatch.OutcomeNotFound
		}
		telemetry.SetAttributes(ctx, telemetry.Datastore(ds))
		if _, _, err := e.archive.Latest(ctx, ds); err != nil {
			logger.Warn("Archive read failed", logger.KeyTxnID, j.txnID, logger.KeyDatastore, ds, logger.KeyError, err)
			telemetry.RecordError(ctx, err)
			return dispatch.OutcomeInternalError
		}
		return dispatch.OutcomeOK

	case "edit-config":
		ds, ok := datastoreOf(op.Child("target"))
		if !ok {
			return dispatch.OutcomeNotFound
		}
		telemetry.SetAttributes(ctx, telemetry.Datastore(ds))
		cfg := op.Child("config")
		if cfg == nil {
			return dispatch.OutcomeInvalidConfig
		}
		if err := e.archive.Put(ctx, ds, j.txnID, cfg.InnerXML()); err != nil {
			logger.Warn("Archive write failed", logger.KeyTxnID, j.txnID, logger.KeyDatastore, ds, logger.KeyError, err)
			telemetry.RecordError(ctx, err)
			return dispatch.OutcomeInternalError
		}
		return dispatch.OutcomeOK

	default:
		return dispatch.OutcomeInvalidConfig
	}
}

func datastoreOf(param *netconf.Node) (string, bool) {
	if param == nil || len(param.Children) != 1 {
		return "", false
	}
	name := param.Children[0].Name()
	return name, datastores[name]
}

var errOfferRejected = errors.New("completion offer rejected")

// complete reports the outcome, retrying rejected offers with exponential
// backoff until OfferTimeout elapses.
func (e *Local) complete(ctx context.Context, j job, outcome dispatch.Outcome) {
	e.mu.RLock()
	c := e.completer
	e.mu.RUnlock()
	if c == nil {
		logger.Warn("No completer installed, outcome dropped", logger.KeyTxnID, j.txnID)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.OfferInterval
	b.MaxInterval = 20 * e.cfg.OfferInterval
	b.MaxElapsedTime = e.cfg.OfferTimeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if c.Offer(outcome, j.env, j.sessionID) {
			return nil
		}
		return errOfferRejected
	}, backoff.WithContext(b, ctx))
	if err != nil {
		logger.Error("Completion dropped",
			logger.KeyTxnID, j.txnID, logger.KeySessionID, j.sessionID,
			logger.KeyAttempt, attempt, logger.KeyError, fmt.Errorf("after %d offers: %w", attempt, err))
		telemetry.RecordError(ctx, err)
	}
}

func (e *Local) reportOutstanding() {
	if e.metrics != nil {
		e.metrics.SetOutstanding(int(e.pending.Load()))
	}
}
