// Package redis persists the lifecycle status in Redis so that every node of
// a deployment observes the same persisted state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/pkg/status"
)

const defaultKeyPrefix = "netconfd:status:"

// Config configures the backend.
type Config struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password,omitempty"`
	DB          int           `mapstructure:"db" yaml:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// Node is appended to KeyPrefix to form the key.
	Node string `mapstructure:"node" yaml:"node,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Node == "" {
		c.Node = status.DefaultNodeName()
	}
}

// Key returns the Redis key holding the status.
func (c Config) Key() string {
	c.applyDefaults()
	return c.KeyPrefix + c.Node
}

// Backend is a status.Backend over Redis.
type Backend struct {
	client *redis.Client
	key    string
	node   string
}

var _ status.Backend = (*Backend)(nil)

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis status: connect %s: %w", cfg.Addr, err)
	}

	logger.Debug("Redis status store connected", "addr", cfg.Addr, "key", cfg.Key())
	return &Backend{client: client, key: cfg.Key(), node: cfg.Node}, nil
}

func (b *Backend) Load(ctx context.Context) (status.State, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", status.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis status: load: %w", err)
	}

	rec, err := status.DecodeRecord(data)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

func (b *Backend) Save(ctx context.Context, s status.State) error {
	data, err := status.NewRecord(s, b.node).Encode()
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis status: save: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
