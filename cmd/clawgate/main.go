package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/gateway"
	"github.com/basket/clawgate/internal/maintenance"
	otelPkg "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/persistence"
	"github.com/basket/clawgate/internal/publish"
	"github.com/basket/clawgate/internal/rotation"
	"github.com/basket/clawgate/internal/schedule"
	"github.com/basket/clawgate/internal/supervisor"
	"github.com/basket/clawgate/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the gateway daemon

SUBCOMMANDS:
  %s status                   Show daemon health status (/healthz)
  %s rotate                   Trigger a manual credential rotation

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CLAWGATE_HOME               Data directory (default: ~/.clawgate)
  CLAWGATE_BIND_ADDR          Listen address override
  CLAWGATE_CREDENTIALS        Credential pool as a JSON array
  CLAWGATE_RESTART_ON_ROTATE  Override restart-after-failover behavior

EXAMPLES:
  Start the daemon:       %s
  Check daemon health:    %s status
  Rotate credentials:     %s rotate
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	quiet := flag.Bool("quiet", false, "log to file only, no stdout mirroring")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI subcommands (non-daemon actions).
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "rotate":
			os.Exit(runRotateCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// File-only logs when detached from a terminal.
	quietLogs := *quiet || !isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	// OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "clawgate.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	sup := supervisor.New(supervisor.Config{
		PIDFile:        cfg.Supervisor.PIDFile,
		RestartCommand: cfg.Supervisor.RestartCommand,
		HealthURL:      cfg.Supervisor.HealthURL,
		GracePeriod:    time.Duration(cfg.Supervisor.GraceSeconds) * time.Second,
		KillWait:       time.Duration(cfg.Supervisor.KillWaitSeconds) * time.Second,
		Logger:         logger,
		Metrics:        metrics,
	})
	sup.Start(ctx)
	defer sup.Stop()

	publisher := publish.NewShellPublisher(cfg.Rotation.ShellFiles, logger)

	manager := rotation.NewManager(rotation.Config{
		Credentials:     toCredentials(cfg.Credentials),
		Publisher:       publisher,
		Restarter:       sup,
		Recorder:        store,
		Logger:          logger,
		Metrics:         metrics,
		RestartOnRotate: cfg.Rotation.RestartOnRotate,
		RestartDelay:    cfg.RestartDelay(),
	})
	if len(cfg.Credentials) > 0 {
		if manager.ApplyCurrent(ctx) {
			logger.Info("startup phase", "phase", "credential_applied")
		}
	} else {
		logger.Warn("no credentials configured; rotation endpoints report disabled")
	}

	if err := supervisor.WritePIDFile(cfg.Supervisor.PIDFile); err != nil {
		logger.Warn("failed to write pid file", "path", cfg.Supervisor.PIDFile, "error", err)
	} else {
		defer os.Remove(cfg.Supervisor.PIDFile)
	}

	// Hot-reload of the credential pool on config.yaml changes.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; credential changes need a restart", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				next, err := config.Load()
				if err != nil {
					logger.Error("config reload failed, keeping previous pool", "error", err)
					continue
				}
				manager.Reload(toCredentials(next.Credentials))
				if len(next.Credentials) > 0 {
					manager.ApplyCurrent(ctx)
				}
			}
		}()
	}

	logMgr, err := maintenance.NewLogManager(
		cfg.Maintenance.LogFile, cfg.Maintenance.MaxSizeMB, cfg.Maintenance.KeepDays, logger)
	if err != nil {
		fatalStartup(logger, "E_MAINTENANCE_INIT", err)
	}

	sched := schedule.NewScheduler(schedule.Config{
		Logger:   logger,
		Metrics:  metrics,
		Interval: time.Duration(cfg.Schedule.TickSeconds) * time.Second,
	})
	if err := sched.RegisterDaily("daily_maintenance",
		cfg.Schedule.DailyHour, cfg.Schedule.DailyMinute,
		dailyMaintenance(logMgr, sup, logger)); err != nil {
		fatalStartup(logger, "E_SCHEDULER_REGISTER", err)
	}
	if err := sched.RegisterInterval("rotation_check",
		time.Duration(cfg.Schedule.RotationCheckHours)*time.Hour,
		rotationCheck(manager, logger)); err != nil {
		fatalStartup(logger, "E_SCHEDULER_REGISTER", err)
	}
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	gw := gateway.New(gateway.Config{
		Manager:   manager,
		Store:     store,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Version:   Version,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    otelProvider.Tracer,
	})
	gw.StartEviction(ctx, 10*time.Minute, time.Hour)

	server := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// dailyMaintenance rotates an oversized log, sweeps stale archives, and
// probes the gateway's own health endpoint.
func dailyMaintenance(logMgr *maintenance.LogManager, sup *supervisor.Supervisor, logger *slog.Logger) schedule.TaskFunc {
	return func(ctx context.Context) error {
		if logMgr.ShouldRotate() {
			if err := logMgr.Rotate(); err != nil {
				return fmt.Errorf("rotate log: %w", err)
			}
		}
		removed, err := logMgr.CleanupOld()
		if err != nil {
			return fmt.Errorf("cleanup archives: %w", err)
		}
		stats := logMgr.Stats()
		health := sup.HealthCheck(ctx)
		logger.Info("daily maintenance completed",
			"archives_removed", removed,
			"log_size_mb", stats.CurrentSizeMB,
			"archived_logs", stats.ArchivedLogs,
			"health", string(health.State),
			"health_status", health.StatusCode,
		)
		return nil
	}
}

// rotationCheck re-asserts the active credential so the shell files and the
// process environment stay consistent even if edited out of band.
func rotationCheck(manager *rotation.Manager, logger *slog.Logger) schedule.TaskFunc {
	return func(ctx context.Context) error {
		st := manager.Status()
		if st.TotalCredentials == 0 {
			return nil
		}
		logger.Info("credential pool check",
			"current", st.CurrentName,
			"failed", st.FailedCount,
			"available", st.AvailableCount,
		)
		if !manager.ApplyCurrent(ctx) {
			return fmt.Errorf("re-apply active credential failed")
		}
		return nil
	}
}

func toCredentials(entries []config.CredentialConfig) []rotation.Credential {
	creds := make([]rotation.Credential, 0, len(entries))
	for _, e := range entries {
		creds = append(creds, rotation.Credential{
			Name:    e.Name,
			Token:   e.Token,
			BaseURL: e.BaseURL,
			Status:  e.Status,
		})
	}
	return creds
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"clawgate","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
