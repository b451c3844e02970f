package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/clawgate/internal/telemetry"
)

func TestNewLogger_WritesRedactedJSON(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := telemetry.NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("credential applied", "token", "sk-ant-REDACTED", "index", 1)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "clawgate.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "sk-ant-") {
		t.Fatalf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatalf("expected renamed time key, got: %s", out)
	}
	if !strings.Contains(out, `"component":"clawgate"`) {
		t.Fatalf("expected component attr, got: %s", out)
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := telemetry.NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped line")
	logger.Warn("kept line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "clawgate.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "dropped line") {
		t.Fatal("info line logged at warn level")
	}
	if !strings.Contains(string(data), "kept line") {
		t.Fatal("warn line missing")
	}
}
