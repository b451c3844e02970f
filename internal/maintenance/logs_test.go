package maintenance_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/basket/clawgate/internal/maintenance"
)

func newManager(t *testing.T, maxSizeMB, keepDays int) (*maintenance.LogManager, string) {
	t.Helper()
	dir := t.TempDir()
	logFile := filepath.Join(dir, "clawgate.log")
	m, err := maintenance.NewLogManager(logFile, maxSizeMB, keepDays, nil)
	if err != nil {
		t.Fatalf("new log manager: %v", err)
	}
	return m, logFile
}

func TestShouldRotate(t *testing.T) {
	m, logFile := newManager(t, 1, 7)

	if m.ShouldRotate() {
		t.Fatal("missing log should not need rotation")
	}

	if err := os.WriteFile(logFile, []byte("small"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.ShouldRotate() {
		t.Fatal("small log should not need rotation")
	}

	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	if err := os.WriteFile(logFile, big, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.ShouldRotate() {
		t.Fatal("oversized log should need rotation")
	}
}

func TestRotate_ArchivesAndCompresses(t *testing.T) {
	m, logFile := newManager(t, 1, 7)
	if err := os.WriteFile(logFile, []byte("log contents here\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := m.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := os.Stat(logFile); !os.IsNotExist(err) {
		t.Fatal("live log should be moved away")
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(logFile), "logs", "clawgate_*.log.gz"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one compressed archive, got %v (err %v)", matches, err)
	}
	if !strings.Contains(filepath.Base(matches[0]), "_") {
		t.Fatalf("archive name should carry a timestamp: %s", matches[0])
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(gr); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if buf.String() != "log contents here\n" {
		t.Fatalf("archive contents = %q", buf.String())
	}
}

func TestRotate_MissingLogIsNoop(t *testing.T) {
	m, _ := newManager(t, 1, 7)
	if err := m.Rotate(); err != nil {
		t.Fatalf("rotate on missing log: %v", err)
	}
}

func TestCleanupOld(t *testing.T) {
	m, logFile := newManager(t, 1, 7)
	archiveDir := filepath.Join(filepath.Dir(logFile), "logs")

	oldArchive := filepath.Join(archiveDir, "clawgate_20250101_020000.log.gz")
	freshArchive := filepath.Join(archiveDir, "clawgate_20260825_020000.log.gz")
	for _, p := range []string{oldArchive, freshArchive} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stale := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(oldArchive, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := m.CleanupOld()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if _, err := os.Stat(oldArchive); !os.IsNotExist(err) {
		t.Fatal("old archive should be deleted")
	}
	if _, err := os.Stat(freshArchive); err != nil {
		t.Fatal("fresh archive should be retained")
	}
}

func TestStats(t *testing.T) {
	m, logFile := newManager(t, 1, 7)
	if err := os.WriteFile(logFile, bytes.Repeat([]byte("y"), 512*1024), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	archive := filepath.Join(filepath.Dir(logFile), "logs", "clawgate_20260801_020000.log.gz")
	if err := os.WriteFile(archive, []byte("z"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	st := m.Stats()
	if st.CurrentSizeMB <= 0 {
		t.Fatalf("current size = %f", st.CurrentSizeMB)
	}
	if st.ArchivedLogs != 1 {
		t.Fatalf("archived logs = %d", st.ArchivedLogs)
	}
}
