// Package supervisor stops and relaunches the serving process and probes
// its health endpoint. Restart requests arrive through a bounded queue so
// the request-handling path that reported a credential failure never blocks
// on the multi-second shutdown sequence it is itself part of.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelPkg "github.com/basket/clawgate/internal/otel"
)

// Config holds the dependencies for the Supervisor.
type Config struct {
	// PIDFile is where the serving process records its PID at startup.
	// The supervisor only reads it.
	PIDFile string

	// RestartCommand launches a fresh server. It is expected to detach and
	// return; a zero exit status means success.
	RestartCommand []string

	// HealthURL is the server's own liveness endpoint.
	HealthURL string

	// GracePeriod is how long to wait after SIGTERM before escalating.
	// Default 5s.
	GracePeriod time.Duration

	// KillWait is how long to wait after SIGKILL. Default 2s.
	KillWait time.Duration

	Logger  *slog.Logger
	Metrics *otelPkg.Metrics
}

// Supervisor is the process-lifecycle actor. Start launches the worker that
// drains the restart queue; Stop cancels it and waits for exit.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	requests chan time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor with the given config.
func New(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		// One slot: a second request while a restart is pending is
		// redundant and gets dropped.
		requests: make(chan time.Duration, 1),
	}
}

// Start launches the restart worker.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop cancels the worker and waits for it to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RequestRestart queues an asynchronous restart after the given drain
// delay. It never blocks; false means a restart is already pending.
func (s *Supervisor) RequestRestart(delay time.Duration) bool {
	select {
	case s.requests <- delay:
		return true
	default:
		s.logger.Warn("restart request dropped, one already pending")
		return false
	}
}

func (s *Supervisor) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delay := <-s.requests:
			if delay > 0 && !sleepCtx(ctx, delay) {
				return
			}
			if err := s.Restart(ctx); err != nil {
				// Terminal for this attempt; observable via logs and
				// the next health check. No automatic retry.
				s.logger.Error("process restart failed", "error", err)
			}
		}
	}
}

// Restart performs the graceful-then-forced stop of the current server
// process (if any) and launches a replacement via the restart command.
func (s *Supervisor) Restart(ctx context.Context) error {
	result := "ok"
	defer func() {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Restarts.Add(ctx, 1,
				metric.WithAttributes(attribute.String("result", result)))
		}
	}()

	if pid, found := s.readPID(); found && processAlive(pid) {
		s.logger.Info("stopping current server", "pid", pid)
		if err := signalProcess(pid, syscall.SIGTERM); err == nil {
			if !sleepCtx(ctx, s.cfg.GracePeriod) {
				result = "canceled"
				return ctx.Err()
			}
			if processAlive(pid) {
				s.logger.Warn("graceful shutdown timed out, forcing stop", "pid", pid)
				_ = signalProcess(pid, syscall.SIGKILL)
				if !sleepCtx(ctx, s.cfg.KillWait) {
					result = "canceled"
					return ctx.Err()
				}
			}
		}
	}

	if len(s.cfg.RestartCommand) == 0 {
		result = "error"
		return fmt.Errorf("no restart command configured")
	}

	s.logger.Info("starting new server process", "command", strings.Join(s.cfg.RestartCommand, " "))
	cmd := exec.CommandContext(ctx, s.cfg.RestartCommand[0], s.cfg.RestartCommand[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		result = "error"
		return fmt.Errorf("restart command: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	s.logger.Info("server restarted")
	return nil
}

// readPID reads the persisted process identifier. An absent or malformed
// file means "no running process".
func (s *Supervisor) readPID() (int, bool) {
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// sleepCtx sleeps for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WritePIDFile records the current process PID at path. Called by the
// daemon at startup; the supervisor side only ever reads it.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
