package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/netconfd/pkg/admin"
	"github.com/marmos91/netconfd/pkg/orderengine/s3archive"
	statusredis "github.com/marmos91/netconfd/pkg/status/redis"
	statussql "github.com/marmos91/netconfd/pkg/status/sql"
)

// Config represents the netconfd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NETCONFD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds the drain performed on SIGINT/SIGTERM. When it
	// expires the server is closed without waiting for outstanding work.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics enables Prometheus metrics, served by the admin API
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server configures the NETCONF listener and its SSH transport
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Lifecycle tunes the lifecycle controller
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// Status selects where the lifecycle status is persisted
	Status StatusConfig `mapstructure:"status" yaml:"status"`

	// Dispatcher tunes the reply dispatcher
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`

	// Engine configures the built-in order engine
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Admin configures the admin HTTP API
	Admin admin.APIConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig enables Prometheus metrics. Metrics are exposed on the
// admin API at /metrics, so the admin API must be enabled to scrape them.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ServerConfig configures the NETCONF listener.
type ServerConfig struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	// Port is the NETCONF-over-SSH port.
	// Default: 830
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// HostKey is an inline PEM private key. Takes precedence over HostKeyPath.
	HostKey string `mapstructure:"host_key" yaml:"host_key,omitempty"`

	// HostKeyPath is a PEM private key file. It is watched and reloaded on
	// change.
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path,omitempty"`

	// Username is the only account allowed to log in.
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// Password is plain text or a bcrypt hash (generated by 'netconfd init').
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// AuthorizedKeysPath enables public key authentication for Username.
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path,omitempty"`

	// MaxConnections limits concurrent transports. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// AcceptRate limits new transports per second. 0 means unlimited.
	AcceptRate float64 `mapstructure:"accept_rate" validate:"gte=0" yaml:"accept_rate"`

	// AcceptBurst is the accept rate limiter burst.
	AcceptBurst int `mapstructure:"accept_burst" validate:"gte=0" yaml:"accept_burst"`

	// Watchdog closes transports that stay idle for this long.
	// Default: 60s
	Watchdog time.Duration `mapstructure:"watchdog" yaml:"watchdog"`

	// PollInterval is the channel poll granularity of each transport.
	// Default: 1s
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// MaxMessageSize bounds inbound NETCONF messages. Supports "16Mi" etc.
	// Default: 16Mi
	MaxMessageSize ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`

	// Capabilities are advertised in the server hello in addition to the
	// base capabilities.
	Capabilities []string `mapstructure:"capabilities" validate:"dive,required" yaml:"capabilities"`

	// HandshakeTimeout bounds the SSH handshake including authentication.
	// Default: 30s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	// MaxAuthTries bounds authentication attempts per connection.
	// Default: 3
	MaxAuthTries int `mapstructure:"max_auth_tries" validate:"gte=0" yaml:"max_auth_tries"`
}

// LifecycleConfig tunes the lifecycle controller.
type LifecycleConfig struct {
	// DrainInterval is the outstanding-work poll interval during a stop.
	// Default: 1s
	DrainInterval time.Duration `mapstructure:"drain_interval" yaml:"drain_interval"`

	// Node names this server in shared status backends.
	// Default: the hostname
	Node string `mapstructure:"node" yaml:"node"`
}

// StatusConfig selects the persisted status backend.
type StatusConfig struct {
	// Backend is one of memory, badger, sql, redis.
	// Default: memory
	Backend string `mapstructure:"backend" validate:"required,oneof=memory badger sql redis" yaml:"backend"`

	Badger BadgerStatusConfig `mapstructure:"badger" yaml:"badger,omitempty"`
	SQL    statussql.Config   `mapstructure:"sql" yaml:"sql,omitempty"`
	Redis  statusredis.Config `mapstructure:"redis" yaml:"redis,omitempty"`
}

// BadgerStatusConfig configures the local BadgerDB status backend.
type BadgerStatusConfig struct {
	// Path is the database directory.
	// Default: <config dir>/status
	Path string `mapstructure:"path" yaml:"path"`
}

// DispatcherConfig tunes the reply dispatcher.
type DispatcherConfig struct {
	// QueueSize is the completion queue capacity.
	// Default: 1024
	QueueSize int `mapstructure:"queue_size" validate:"gte=0" yaml:"queue_size"`
}

// EngineConfig configures the built-in order engine.
type EngineConfig struct {
	// Capacity bounds queued transactions.
	// Default: 256
	Capacity int `mapstructure:"capacity" validate:"gte=0" yaml:"capacity"`

	// Workers is the number of concurrently executed transactions.
	// Default: 4
	Workers int `mapstructure:"workers" validate:"gte=0" yaml:"workers"`

	// OfferInterval is the initial backoff between rejected completion offers.
	// Default: 10ms
	OfferInterval time.Duration `mapstructure:"offer_interval" yaml:"offer_interval"`

	// OfferTimeout bounds how long a completion is retried before it is dropped.
	// Default: 30s
	OfferTimeout time.Duration `mapstructure:"offer_timeout" yaml:"offer_timeout"`

	// Archive stores committed configurations.
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// ArchiveConfig selects the configuration archive.
type ArchiveConfig struct {
	// Type is memory or s3.
	// Default: memory
	Type string `mapstructure:"type" validate:"required,oneof=memory s3" yaml:"type"`

	// S3 is required when Type is s3.
	S3 *s3archive.Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  netconfd init\n\n"+
				"Or specify a custom config file:\n"+
				"  netconfd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  netconfd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Owner-only: the file holds the password hash and JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: NETCONFD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NETCONFD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile returns whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "16Mi" and plain numbers to
// ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("invalid byte size %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("invalid byte size %d", v)
			}
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("invalid byte size %v", v)
			}
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration. Raw
// numbers are nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/netconfd, ~/.config/netconfd, or "."
// when no home directory is available.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "netconfd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "netconfd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
