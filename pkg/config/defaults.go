package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/netconfd/pkg/dispatch"
	"github.com/marmos91/netconfd/pkg/lifecycle"
	"github.com/marmos91/netconfd/pkg/orderengine"
	"github.com/marmos91/netconfd/pkg/server"
	"github.com/marmos91/netconfd/pkg/status"
	statussql "github.com/marmos91/netconfd/pkg/status/sql"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyServerDefaults(&cfg.Server)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applyStatusDefaults(&cfg.Status)
	applyDispatcherDefaults(&cfg.Dispatcher)
	applyEngineDefaults(&cfg.Engine)
	cfg.Admin.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Standard OTLP gRPC port
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyServerDefaults sets NETCONF listener defaults. The host key path
// defaults to a file in the config directory unless an inline key is set.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = server.DefaultPort
	}
	if cfg.HostKey == "" && cfg.HostKeyPath == "" {
		cfg.HostKeyPath = filepath.Join(getConfigDir(), "ssh_host_ed25519_key")
	}
	if cfg.Watchdog == 0 {
		cfg.Watchdog = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = ByteSize(16 * humanize.MiByte)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxAuthTries == 0 {
		cfg.MaxAuthTries = 3
	}
}

func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = lifecycle.DefaultDrainInterval
	}
	if cfg.Node == "" {
		cfg.Node = status.DefaultNodeName()
	}
}

// applyStatusDefaults picks the in-memory backend and fills in local paths
// for the file-backed ones.
func applyStatusDefaults(cfg *StatusConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.Badger.Path == "" {
		cfg.Badger.Path = filepath.Join(getConfigDir(), "status")
	}
	if cfg.SQL.Type == "" {
		cfg.SQL.Type = statussql.DatabaseTypeSQLite
	}
	if cfg.SQL.Type == statussql.DatabaseTypeSQLite && cfg.SQL.SQLitePath == "" {
		cfg.SQL.SQLitePath = filepath.Join(getConfigDir(), "status.db")
	}
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = dispatch.DefaultQueueSize
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = orderengine.DefaultCapacity
	}
	if cfg.Workers == 0 {
		cfg.Workers = orderengine.DefaultWorkers
	}
	if cfg.OfferInterval == 0 {
		cfg.OfferInterval = orderengine.DefaultOfferInterval
	}
	if cfg.OfferTimeout == 0 {
		cfg.OfferTimeout = orderengine.DefaultOfferTimeout
	}
	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "memory"
	}
}

// GetDefaultConfig returns a Config with all defaults applied. The username
// is "admin" and no credential is set, so the result needs a password or
// authorized keys before it validates.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Username: "admin",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
