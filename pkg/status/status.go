// Package status defines the process-wide lifecycle status and the store it
// lives in.
//
// The lifecycle status gates whether configuration requests are accepted.
// It has an in-memory view (what this process believes) and a persisted view
// (what other processes, and this one after a restart, observe). Writers
// choose which view an update applies to with a Scope.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle status.
type State string

const (
	Stop         State = "STOP"
	ReadyToStart State = "READY_TO_START"
	Start        State = "START"
	ReadyToStop  State = "READY_TO_STOP"
	ChangeOver   State = "CHANGE_OVER"
)

// States lists every valid state.
var States = []State{Stop, ReadyToStart, Start, ReadyToStop, ChangeOver}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState parses a case-insensitive state name ("ready-to-start" and
// "READY_TO_START" are equivalent).
func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_")))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, v)
	}
	return s, nil
}

// Scope selects the view a write applies to.
type Scope int

const (
	ScopeMemory Scope = 1 << iota
	ScopePersisted
	ScopeBoth = ScopeMemory | ScopePersisted
)

func (s Scope) String() string {
	switch s {
	case ScopeMemory:
		return "memory"
	case ScopePersisted:
		return "persisted"
	case ScopeBoth:
		return "both"
	default:
		return "none"
	}
}

var (
	// ErrInvalidState is returned for unknown state values.
	ErrInvalidState = errors.New("status: invalid state")

	// ErrNotFound is returned by persisted backends holding no status yet.
	ErrNotFound = errors.New("status: not found")
)

// Store reads and writes the lifecycle status.
type Store interface {
	// Read returns the current status.
	Read(ctx context.Context) (State, error)

	// Write records s in the views selected by scope.
	Write(ctx context.Context, s State, scope Scope) error

	// Close releases backend resources.
	Close() error
}

// Backend is a single persisted view. Backends return ErrNotFound when
// nothing has been written yet.
type Backend interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
	Close() error
}
