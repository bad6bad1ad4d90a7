package orderengine

import (
	"context"
	"sync"
)

// Archive stores committed configurations per datastore.
type Archive interface {
	// Put records config as the newest content of datastore.
	Put(ctx context.Context, datastore, txnID string, config []byte) error

	// Latest returns the newest content of datastore. ok is false when
	// nothing has been committed to it.
	Latest(ctx context.Context, datastore string) (config []byte, ok bool, err error)
}

// MemoryArchive keeps every committed revision in memory.
type MemoryArchive struct {
	mu        sync.RWMutex
	revisions map[string][]revision
}

type revision struct {
	txnID  string
	config []byte
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{revisions: make(map[string][]revision)}
}

func (a *MemoryArchive) Put(_ context.Context, datastore, txnID string, config []byte) error {
	cp := append([]byte(nil), config...)
	a.mu.Lock()
	a.revisions[datastore] = append(a.revisions[datastore], revision{txnID: txnID, config: cp})
	a.mu.Unlock()
	return nil
}

func (a *MemoryArchive) Latest(_ context.Context, datastore string) ([]byte, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	revs := a.revisions[datastore]
	if len(revs) == 0 {
		return nil, false, nil
	}
	return revs[len(revs)-1].config, true, nil
}

// Revisions returns how many revisions datastore has.
func (a *MemoryArchive) Revisions(datastore string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.revisions[datastore])
}
