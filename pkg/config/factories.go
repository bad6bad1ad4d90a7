package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/lifecycle"
	"github.com/marmos91/netconfd/pkg/metrics"
	"github.com/marmos91/netconfd/pkg/orderengine"
	"github.com/marmos91/netconfd/pkg/orderengine/s3archive"
	"github.com/marmos91/netconfd/pkg/server"
	"github.com/marmos91/netconfd/pkg/status"
	statusbadger "github.com/marmos91/netconfd/pkg/status/badger"
	statusredis "github.com/marmos91/netconfd/pkg/status/redis"
	statussql "github.com/marmos91/netconfd/pkg/status/sql"
	"github.com/marmos91/netconfd/pkg/transport/sshd"
)

// LoggerConfig converts the logging section for logger.Init.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig converts the telemetry section for telemetry.Init.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "netconfd",
		ServiceVersion: version,
		Node:           c.Lifecycle.Node,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// ProfilingConfig converts the profiling section for telemetry.InitProfiling.
func (c *Config) ProfilingConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Telemetry.Profiling.Enabled,
		ServiceName:    "netconfd",
		ServiceVersion: version,
		Node:           c.Lifecycle.Node,
		Endpoint:       c.Telemetry.Profiling.Endpoint,
		ProfileTypes:   c.Telemetry.Profiling.ProfileTypes,
	}
}

// NewStatusStore opens the configured status backend behind an in-memory
// layer. Shared backends are keyed by the lifecycle node name unless the
// backend section names its own.
//
// Supported backends:
//   - "memory": nothing persisted, every start begins at STOP
//   - "badger": local BadgerDB directory
//   - "sql": SQLite file or PostgreSQL table via GORM
//   - "redis": one key per node
func NewStatusStore(ctx context.Context, cfg *Config) (*status.Layered, error) {
	var (
		backend status.Backend
		err     error
	)

	switch cfg.Status.Backend {
	case "", "memory":
		return status.NewMemory(status.Stop), nil
	case "badger":
		backend, err = statusbadger.Open(statusbadger.Config{
			Path: cfg.Status.Badger.Path,
			Node: cfg.Lifecycle.Node,
		})
	case "sql":
		sqlCfg := cfg.Status.SQL
		if sqlCfg.Node == "" {
			sqlCfg.Node = cfg.Lifecycle.Node
		}
		backend, err = statussql.Open(sqlCfg)
	case "redis":
		redisCfg := cfg.Status.Redis
		if redisCfg.Node == "" {
			redisCfg.Node = cfg.Lifecycle.Node
		}
		backend, err = statusredis.Open(ctx, redisCfg)
	default:
		return nil, fmt.Errorf("unknown status backend: %q", cfg.Status.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s status backend: %w", cfg.Status.Backend, err)
	}

	logger.Info("Status backend opened", "backend", cfg.Status.Backend, "node", cfg.Lifecycle.Node)
	return status.NewLayered(backend), nil
}

// NewArchive creates the configuration archive used by the order engine.
func NewArchive(ctx context.Context, cfg *ArchiveConfig) (orderengine.Archive, error) {
	switch cfg.Type {
	case "", "memory":
		return orderengine.NewMemoryArchive(), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 archive: configuration is required")
		}
		archive, err := s3archive.NewFromConfig(ctx, *cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 archive: %w", err)
		}
		return archive, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %q", cfg.Type)
	}
}

// NewOrderEngine creates the built-in order engine. The lifecycle
// controller installs itself as the completer.
func NewOrderEngine(ctx context.Context, cfg *Config, m metrics.NetconfMetrics) (*orderengine.Local, error) {
	archive, err := NewArchive(ctx, &cfg.Engine.Archive)
	if err != nil {
		return nil, err
	}

	return orderengine.NewLocal(orderengine.Config{
		Capacity:      cfg.Engine.Capacity,
		Workers:       cfg.Engine.Workers,
		OfferInterval: cfg.Engine.OfferInterval,
		OfferTimeout:  cfg.Engine.OfferTimeout,
	}, archive, nil, m), nil
}

// LifecycleParams builds the controller parameters, reading the authorized
// keys file when one is configured.
func (c *Config) LifecycleParams(changeOver bool) (lifecycle.Params, error) {
	p := lifecycle.Params{
		Username:    c.Server.Username,
		Password:    c.Server.Password,
		BindAddress: c.Server.BindAddress,
		Port:        c.Server.Port,
		HostKeyPath: c.Server.HostKeyPath,
		ChangeOver:  changeOver,
	}

	if c.Server.HostKey != "" {
		p.HostKey = []byte(c.Server.HostKey)
		p.HostKeyPath = ""
	}

	if c.Server.AuthorizedKeysPath != "" {
		keys, err := os.ReadFile(c.Server.AuthorizedKeysPath)
		if err != nil {
			return lifecycle.Params{}, fmt.Errorf("failed to read authorized keys: %w", err)
		}
		p.AuthorizedKeys = keys
	}

	return p, nil
}

// LifecycleDependencies wires the configured tuning into the controller
// dependencies.
func (c *Config) LifecycleDependencies(store status.Store, orders orderengine.Engine, m metrics.NetconfMetrics) lifecycle.Dependencies {
	return lifecycle.Dependencies{
		Status: store,
		Orders: orders,
		Server: server.Config{
			MaxConnections: c.Server.MaxConnections,
			AcceptRate:     c.Server.AcceptRate,
			AcceptBurst:    c.Server.AcceptBurst,
			Watchdog:       c.Server.Watchdog,
			PollInterval:   c.Server.PollInterval,
			MaxMessageSize: int(c.Server.MaxMessageSize),
			TransportName:  "ssh",
		},
		SSH: sshd.Config{
			HandshakeTimeout: c.Server.HandshakeTimeout,
			MaxAuthTries:     c.Server.MaxAuthTries,
		},
		DrainInterval: c.Lifecycle.DrainInterval,
		QueueSize:     c.Dispatcher.QueueSize,
		Capabilities:  c.Server.Capabilities,
		Metrics:       m,
	}
}
