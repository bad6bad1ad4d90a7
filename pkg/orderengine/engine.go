// Package orderengine defines the contract of the asynchronous order engine
// that executes get-config and edit-config, and provides Local, an
// in-process implementation backed by an Archive.
package orderengine

import (
	"context"
	"errors"

	"github.com/marmos91/netconfd/pkg/dispatch"
	"github.com/marmos91/netconfd/pkg/netconf"
)

var (
	// ErrHalted is returned by Submit after Halt.
	ErrHalted = errors.New("orderengine: halted")

	// ErrFull is returned by Submit when the intake is at capacity.
	ErrFull = errors.New("orderengine: intake full")
)

// Engine executes forwarded configuration requests out of band.
type Engine interface {
	// HasCapacity reports whether Submit would currently be accepted.
	HasCapacity() bool

	// Submit queues env for execution on behalf of sessionID.
	Submit(env netconf.Envelope, sessionID uint64) error

	// OutstandingCount returns the number of transactions submitted but not
	// yet reported.
	OutstandingCount(ctx context.Context) (int, error)

	// Halt stops intake. It returns once in-flight work has finished.
	Halt()
}

// Completer receives transaction results. The lifecycle controller's Offer
// satisfies it.
type Completer interface {
	Offer(outcome dispatch.Outcome, env netconf.Envelope, sessionID uint64) bool
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(outcome dispatch.Outcome, env netconf.Envelope, sessionID uint64) bool

func (f CompleterFunc) Offer(outcome dispatch.Outcome, env netconf.Envelope, sessionID uint64) bool {
	return f(outcome, env, sessionID)
}
