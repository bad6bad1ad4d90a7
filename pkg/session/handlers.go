package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/netconfd/pkg/netconf"
)

// Operations handled by the engine itself. They cannot be registered in a
// HandlerTable.
const (
	OpCloseSession = "close-session"
	OpKillSession  = "kill-session"
	OpGetConfig    = "get-config"
	OpEditConfig   = "edit-config"
	OpGet          = "get"
	OpLock         = "lock"
	OpUnlock       = "unlock"
)

var reservedOps = map[string]bool{
	OpCloseSession: true,
	OpKillSession:  true,
	OpGetConfig:    true,
	OpEditConfig:   true,
}

// Request is the validated input of a synchronous operation handler.
type Request struct {
	Session   *Session
	RPC       *netconf.RPC
	Operation *netconf.Node
}

// SessionID returns the id of the session the rpc arrived on.
func (r *Request) SessionID() uint64 { return r.Session.ID() }

// Result is what a handler produced.
type Result struct {
	// Replied is true when the handler already sent the reply itself.
	Replied bool

	// Reply is sent by the engine when Replied is false. A nil Reply is
	// sent as <ok/>. Attributes of the rpc are applied when Reply has none.
	Reply *netconf.Reply
}

// Handler executes one rpc operation synchronously.
//
// Returning a *netconf.RPCError answers the rpc with that fault; any other
// error is reported to the client as an unexpected handler failure.
type Handler interface {
	Handle(ctx context.Context, req *Request) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// HandlerTable maps operation names to handlers. It replaces name-based
// method lookup with an explicit table populated at start-up.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]Handler)}
}

// Register adds h under name. Reserved and duplicate names are rejected.
func (t *HandlerTable) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("handler: empty operation name")
	}
	if reservedOps[name] {
		return fmt.Errorf("handler: operation %q is handled by the engine", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[name]; exists {
		return fmt.Errorf("handler: operation %q already registered", name)
	}
	t.handlers[name] = h
	return nil
}

func (t *HandlerTable) Lookup(name string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[name]
	return h, ok
}

// Names returns the registered operation names in sorted order.
func (t *HandlerTable) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.handlers))
	for n := range t.handlers {
		names = append(names, n)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}
