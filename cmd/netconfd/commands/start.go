package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/logger"
	"github.com/marmos91/netconfd/internal/telemetry"
	"github.com/marmos91/netconfd/pkg/admin"
	"github.com/marmos91/netconfd/pkg/config"
	"github.com/marmos91/netconfd/pkg/lifecycle"
	"github.com/marmos91/netconfd/pkg/metrics"
	prommetrics "github.com/marmos91/netconfd/pkg/metrics/prometheus"
	"github.com/marmos91/netconfd/pkg/status"
)

var (
	changeOver  bool
	autoStart   bool
	resetStatus bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the NETCONF server",
	Long: `Start the NETCONF server in the foreground.

The persisted lifecycle status must be STOP. The server writes READY_TO_START
(or CHANGE_OVER with --change-over) once it listens, and START when
--auto-start is set or an operator runs 'netconfd accept'.

SIGINT or SIGTERM requests a normal stop: new configuration requests are
refused while outstanding work drains, then STOP is written. The drain is
bounded by shutdown_timeout; a second signal aborts it.

Examples:
  # Start with the default config
  netconfd start

  # Take over from a previous instance without accepting requests yet
  netconfd start --change-over --auto-start=false

  # Recover after a crash left START persisted
  netconfd start --reset-status

  # Override configuration through the environment
  NETCONFD_LOGGING_LEVEL=DEBUG netconfd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&changeOver, "change-over", false, "Start in CHANGE_OVER instead of READY_TO_START")
	startCmd.Flags().BoolVar(&autoStart, "auto-start", true, "Write START once the server is listening")
	startCmd.Flags().BoolVar(&resetStatus, "reset-status", false, "Write STOP before starting (use after a crash)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics must be initialized before any component that records them.
	var m metrics.NetconfMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		m = prommetrics.NewNetconfMetrics()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	}

	store, err := config.NewStatusStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("status store close error", logger.KeyError, err)
		}
	}()

	if resetStatus {
		if err := store.Write(ctx, status.Stop, status.ScopeBoth); err != nil {
			return fmt.Errorf("failed to reset status: %w", err)
		}
		logger.Warn("Lifecycle status reset to STOP")
	}

	orders, err := config.NewOrderEngine(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer orders.Halt()

	params, err := cfg.LifecycleParams(changeOver)
	if err != nil {
		return err
	}

	ctrl, err := lifecycle.New(ctx, params, cfg.LifecycleDependencies(store, orders, m))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotStopped) {
			return fmt.Errorf("%w\n\nAnother instance may be running. If the previous one crashed, run:\n  netconfd start --reset-status", err)
		}
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Error("Controller close error", logger.KeyError, err)
		}
	}()

	fmt.Printf("netconfd %s listening on %s\n", Version, ctrl.Addr())

	if cfg.Admin.Enabled {
		adminSrv, err := admin.NewServer(cfg.Admin, ctrl, admin.Credentials{
			Username: cfg.Server.Username,
			Password: cfg.Server.Password,
		}, metrics.GetRegistry())
		if err != nil {
			return fmt.Errorf("failed to create admin API: %w", err)
		}
		adminCtx, adminCancel := context.WithCancel(ctx)
		defer adminCancel()
		go func() {
			if err := adminSrv.Start(adminCtx); err != nil {
				logger.Error("Admin API error", logger.KeyError, err)
			}
		}()
	}

	if autoStart {
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("failed to write START: %w", err)
		}
	}

	return waitForShutdown(ctx, ctrl, cfg.ShutdownTimeout)
}

// waitForShutdown blocks until the controller has drained, either after a
// stop requested through the admin API or after a signal. A drain that
// outlasts timeout, or a second signal, returns and lets the deferred Close
// tear the server down.
func waitForShutdown(ctx context.Context, ctrl *lifecycle.Controller, timeout time.Duration) error {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-ctrl.Done():
		logger.Info("Server stopped")
		return nil
	case <-sigChan:
	}

	logger.Info("Shutdown signal received, draining outstanding work")

	current, err := ctrl.Status(ctx)
	if err != nil || current != status.Start {
		// Only a started server drains; anything else closes directly.
		logger.Info("Server not started, closing", logger.KeyState, current.String())
		return nil
	}
	ctrl.Stop(lifecycle.ReasonNormal)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctrl.Done():
		logger.Info("Server stopped gracefully")
		return nil
	case <-timer.C:
		logger.Warn("Shutdown timeout exceeded, closing with outstanding work", "timeout", timeout)
		return nil
	case <-sigChan:
		logger.Warn("Second signal received, closing immediately")
		return nil
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
