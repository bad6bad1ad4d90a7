// Package badger persists the lifecycle status in a local BadgerDB.
//
// This is the node-local persisted view: it survives restarts of this
// process but is not shared with other nodes.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/status"
)

// keyPrefix namespaces status keys so the database can be shared with
// other local state.
const keyPrefix = "netconfd:status:"

// Config configures the backend.
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string

	// Node names the key the status is stored under.
	Node string

	// InMemory runs Badger without touching disk (tests).
	InMemory bool
}

// Backend is a status.Backend over BadgerDB.
type Backend struct {
	db   *badger.DB
	key  []byte
	node string
}

var _ status.Backend = (*Backend)(nil)

// Open opens (or creates) the database.
func Open(cfg Config) (*Backend, error) {
	if cfg.Node == "" {
		cfg.Node = status.DefaultNodeName()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger status: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("badger status: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger status: open: %w", err)
	}

	logger.Debug("Badger status store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Backend{db: db, key: []byte(keyPrefix + cfg.Node), node: cfg.Node}, nil
}

func (b *Backend) Load(_ context.Context) (status.State, error) {
	var rec status.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := status.DecodeRecord(val)
			rec = r
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", status.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger status: load: %w", err)
	}
	return rec.State, nil
}

func (b *Backend) Save(_ context.Context, s status.State) error {
	data, err := status.NewRecord(s, b.node).Encode()
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	}); err != nil {
		return fmt.Errorf("badger status: save: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
