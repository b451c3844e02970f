package supervisor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/clawgate/internal/supervisor"
)

// waitFor polls check at short intervals until it returns true or the
// deadline elapses, avoiding fixed sleeps that make tests flaky.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestRestart_NoPIDFileLaunchesAnyway(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "launched")

	s := supervisor.New(supervisor.Config{
		PIDFile:        filepath.Join(dir, "absent.pid"),
		RestartCommand: []string{"touch", marker},
	})

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("launch command did not run: %v", err)
	}
}

func TestRestart_MalformedPIDFileSkipsToLaunch(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "clawgate.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	marker := filepath.Join(dir, "launched")

	s := supervisor.New(supervisor.Config{
		PIDFile:        pidFile,
		RestartCommand: []string{"touch", marker},
	})
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("launch should run despite malformed pid file")
	}
}

func TestRestart_CommandFailureReported(t *testing.T) {
	dir := t.TempDir()
	s := supervisor.New(supervisor.Config{
		PIDFile:        filepath.Join(dir, "absent.pid"),
		RestartCommand: []string{"false"},
	})
	if err := s.Restart(context.Background()); err == nil {
		t.Fatal("expected error from failing restart command")
	}
}

func TestRestart_NoCommandConfigured(t *testing.T) {
	s := supervisor.New(supervisor.Config{
		PIDFile: filepath.Join(t.TempDir(), "absent.pid"),
	})
	if err := s.Restart(context.Background()); err == nil {
		t.Fatal("expected error without a restart command")
	}
}

func TestRequestRestart_QueueBounded(t *testing.T) {
	// Not started: nothing drains the queue, so the second request must be
	// rejected rather than block.
	s := supervisor.New(supervisor.Config{})
	if !s.RequestRestart(0) {
		t.Fatal("first request should be accepted")
	}
	if s.RequestRestart(0) {
		t.Fatal("second request should be dropped while one is pending")
	}
}

func TestWorker_DrainsQueue(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "launched")

	s := supervisor.New(supervisor.Config{
		PIDFile:        filepath.Join(dir, "absent.pid"),
		RestartCommand: []string{"touch", marker},
	})
	s.Start(context.Background())
	defer s.Stop()

	if !s.RequestRestart(10 * time.Millisecond) {
		t.Fatal("request should be accepted")
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	})
}

func TestStop_CancelsPendingDelay(t *testing.T) {
	s := supervisor.New(supervisor.Config{
		PIDFile:        filepath.Join(t.TempDir(), "absent.pid"),
		RestartCommand: []string{"true"},
	})
	s.Start(context.Background())
	s.RequestRestart(time.Hour)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not interrupt the restart delay")
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	s := supervisor.New(supervisor.Config{HealthURL: srv.URL})
	res := s.HealthCheck(context.Background())
	if res.State != supervisor.Healthy {
		t.Fatalf("state = %q", res.State)
	}
	if res.StatusCode != http.StatusOK || res.Detail == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := supervisor.New(supervisor.Config{HealthURL: srv.URL})
	res := s.HealthCheck(context.Background())
	if res.State != supervisor.Unhealthy {
		t.Fatalf("state = %q", res.State)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestHealthCheck_Unreachable(t *testing.T) {
	s := supervisor.New(supervisor.Config{HealthURL: "http://127.0.0.1:1/healthz"})
	res := s.HealthCheck(context.Background())
	if res.State != supervisor.Unreachable {
		t.Fatalf("state = %q", res.State)
	}
	if res.Detail == "" {
		t.Fatal("expected transport detail")
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawgate.pid")
	if err := supervisor.WritePIDFile(path); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("pid file empty")
	}
}
