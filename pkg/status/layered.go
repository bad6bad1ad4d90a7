package status

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/netconfd/internal/logger"
)

// Layered combines an in-memory view with an optional persisted Backend.
//
// Read prefers the memory view. When memory has never been written it falls
// back to the backend and seeds memory with the result; with nothing stored
// anywhere the status is Stop.
type Layered struct {
	mu      sync.RWMutex
	memory  State
	backend Backend
}

var _ Store = (*Layered)(nil)

// NewLayered creates a store. backend may be nil for a memory-only store.
func NewLayered(backend Backend) *Layered {
	return &Layered{backend: backend}
}

// NewMemory returns a memory-only store holding initial.
func NewMemory(initial State) *Layered {
	return &Layered{memory: initial}
}

func (l *Layered) Read(ctx context.Context) (State, error) {
	l.mu.RLock()
	s := l.memory
	l.mu.RUnlock()
	if s != "" {
		return s, nil
	}

	if l.backend == nil {
		return Stop, nil
	}

	persisted, err := l.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		persisted = Stop
	case err != nil:
		return "", fmt.Errorf("status: load persisted view: %w", err)
	}

	l.mu.Lock()
	if l.memory == "" {
		l.memory = persisted
	}
	s = l.memory
	l.mu.Unlock()
	return s, nil
}

// Write applies s to the selected views. The persisted view is written
// first so a failed save leaves memory unchanged.
func (l *Layered) Write(ctx context.Context, s State, scope Scope) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, s)
	}

	if scope&ScopePersisted != 0 && l.backend != nil {
		if err := l.backend.Save(ctx, s); err != nil {
			return fmt.Errorf("status: save persisted view: %w", err)
		}
	}
	if scope&ScopeMemory != 0 {
		l.mu.Lock()
		l.memory = s
		l.mu.Unlock()
	}

	logger.Debug("Lifecycle status written", logger.KeyState, s, logger.KeyScope, scope.String())
	return nil
}

// Persisted reads the persisted view directly.
func (l *Layered) Persisted(ctx context.Context) (State, error) {
	if l.backend == nil {
		return "", ErrNotFound
	}
	return l.backend.Load(ctx)
}

func (l *Layered) Close() error {
	if l.backend == nil {
		return nil
	}
	return l.backend.Close()
}
