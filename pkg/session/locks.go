package session

import (
	"sync"

	"github.com/marmos91/netconfd/pkg/netconf"
)

// Datastores that can be locked.
var lockableDatastores = map[string]bool{
	"running":   true,
	"candidate": true,
	"startup":   true,
}

// LockTable tracks which session holds each datastore lock.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]uint64
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]uint64)}
}

// Lock grants datastore to session. A lock already held, by any session,
// yields a lock-denied fault naming the holder.
func (t *LockTable) Lock(datastore string, session uint64) *netconf.RPCError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if holder, held := t.locks[datastore]; held {
		return netconf.NewLockDenied(holder)
	}
	t.locks[datastore] = session
	return nil
}

// Unlock releases datastore if session holds it.
func (t *LockTable) Unlock(datastore string, session uint64) *netconf.RPCError {
	t.mu.Lock()
	defer t.mu.Unlock()
	holder, held := t.locks[datastore]
	if !held {
		return netconf.NewOperationFailed("datastore " + datastore + " is not locked")
	}
	if holder != session {
		return netconf.NewOperationFailed("datastore " + datastore + " is locked by another session")
	}
	delete(t.locks, datastore)
	return nil
}

// ReleaseAll drops every lock held by session and returns how many there were.
func (t *LockTable) ReleaseAll(session uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for ds, holder := range t.locks {
		if holder == session {
			delete(t.locks, ds)
			n++
		}
	}
	return n
}

// Holder returns the session holding datastore, if any.
func (t *LockTable) Holder(datastore string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.locks[datastore]
	return h, ok
}
