// Package maintenance rotates, compresses and expires the daemon's log
// archives. Invoked by the scheduler; never touches pool state.
package maintenance

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// LogManager manages log rotation, cleanup and archiving for one log file.
// Archives live in a "logs" directory next to the live file, named
// clawgate_<YYYYMMDD_HHMMSS>.log.gz.
type LogManager struct {
	logFile    string
	archiveDir string
	maxSizeMB  int
	keepDays   int
	logger     *slog.Logger
}

// NewLogManager creates a LogManager and ensures the archive directory
// exists.
func NewLogManager(logFile string, maxSizeMB, keepDays int, logger *slog.Logger) (*LogManager, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if keepDays <= 0 {
		keepDays = 7
	}
	if logger == nil {
		logger = slog.Default()
	}
	archiveDir := filepath.Join(filepath.Dir(logFile), "logs")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &LogManager{
		logFile:    logFile,
		archiveDir: archiveDir,
		maxSizeMB:  maxSizeMB,
		keepDays:   keepDays,
		logger:     logger,
	}, nil
}

// ShouldRotate reports whether the live log exceeds the size threshold.
// A missing log file never needs rotation.
func (m *LogManager) ShouldRotate() bool {
	info, err := os.Stat(m.logFile)
	if err != nil {
		return false
	}
	return info.Size() > int64(m.maxSizeMB)*1024*1024
}

// Rotate moves the live log into the archive directory and compresses it.
// A missing live log is a successful no-op.
func (m *LogManager) Rotate() error {
	if _, err := os.Stat(m.logFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	archived := filepath.Join(m.archiveDir, fmt.Sprintf("clawgate_%s.log", timestamp))
	if err := os.Rename(m.logFile, archived); err != nil {
		return fmt.Errorf("archive log: %w", err)
	}

	if err := compressFile(archived); err != nil {
		// The uncompressed archive is still in place; cleanup will expire it.
		m.logger.Error("failed to compress archived log", "file", archived, "error", err)
	}

	m.logger.Info("log rotated", "archived", archived)
	return nil
}

// compressFile gzips path into path.gz and removes the original.
func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("flush gzip: %w", err)
	}
	return os.Remove(path)
}

// CleanupOld removes archives older than the retention threshold and
// returns how many were deleted. Per-file failures are logged and skipped.
func (m *LogManager) CleanupOld() (int, error) {
	cutoff := time.Now().AddDate(0, 0, -m.keepDays)

	matches, err := filepath.Glob(filepath.Join(m.archiveDir, "clawgate_*.log*"))
	if err != nil {
		return 0, fmt.Errorf("glob archives: %w", err)
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				m.logger.Warn("failed to remove old log", "file", path, "error", err)
				continue
			}
			removed++
			m.logger.Info("removed old log archive", "file", path)
		}
	}
	return removed, nil
}

// Stats summarizes the log footprint for the health/maintenance report.
type Stats struct {
	CurrentSizeMB  float64 `json:"current_log_size_mb"`
	ArchivedLogs   int     `json:"archived_logs"`
	ArchivedSizeMB float64 `json:"total_archived_size_mb"`
	OldestAgeDays  float64 `json:"oldest_log_age_days"`
}

// Stats inspects the live log and archives.
func (m *LogManager) Stats() Stats {
	var st Stats
	if info, err := os.Stat(m.logFile); err == nil {
		st.CurrentSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	matches, err := filepath.Glob(filepath.Join(m.archiveDir, "clawgate_*.log*"))
	if err != nil {
		return st
	}
	st.ArchivedLogs = len(matches)

	var totalSize int64
	var oldest time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		totalSize += info.Size()
		if oldest.IsZero() || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	st.ArchivedSizeMB = float64(totalSize) / (1024 * 1024)
	if !oldest.IsZero() {
		st.OldestAgeDays = time.Since(oldest).Hours() / 24
	}
	return st
}
