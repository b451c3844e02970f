// Package config loads the clawgate configuration from
// <home>/config.yaml with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/clawgate/internal/otel"
)

// APIKeyEntry is one inbound gateway API key.
type APIKeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// AuthConfig controls inbound caller authentication for the gateway.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

// RateLimitConfig controls per-key request rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// RotationConfig controls credential failover behavior.
type RotationConfig struct {
	// RestartOnRotate triggers a supervisor restart after a successful failover.
	RestartOnRotate bool `yaml:"restart_on_rotate"`

	// RestartDelaySeconds is how long to wait before the restart fires,
	// letting in-flight requests drain. Default 2.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// ShellFiles are the shell-init files the publisher rewrites so future
	// launches inherit the active token. Defaults to ~/.bash_profile,
	// ~/.bashrc and ~/.zshrc.
	ShellFiles []string `yaml:"shell_files"`
}

// SupervisorConfig controls process restart and liveness probing.
type SupervisorConfig struct {
	PIDFile         string   `yaml:"pid_file"`
	RestartCommand  []string `yaml:"restart_command"`
	HealthURL       string   `yaml:"health_url"`
	GraceSeconds    int      `yaml:"grace_seconds"`
	KillWaitSeconds int      `yaml:"kill_wait_seconds"`
}

// MaintenanceConfig controls log rotation and archive cleanup.
type MaintenanceConfig struct {
	LogFile   string `yaml:"log_file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	KeepDays  int    `yaml:"keep_days"`
}

// ScheduleConfig controls the maintenance scheduler cadences.
type ScheduleConfig struct {
	TickSeconds        int `yaml:"tick_seconds"`
	DailyHour          int `yaml:"daily_hour"`
	DailyMinute        int `yaml:"daily_minute"`
	RotationCheckHours int `yaml:"rotation_check_hours"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Credentials is the upstream credential pool, in failover order.
	// It can also be supplied as a JSON array via CLAWGATE_CREDENTIALS,
	// which takes precedence over the yaml list.
	Credentials []CredentialConfig `yaml:"credentials"`

	Rotation    RotationConfig    `yaml:"rotation"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Schedule    ScheduleConfig    `yaml:"schedule"`

	OTel otel.Config `yaml:"otel"`
}

// HomeDir returns the clawgate data directory, honoring CLAWGATE_HOME.
func HomeDir() string {
	if override := os.Getenv("CLAWGATE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".clawgate")
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:8010",
		LogLevel: "info",
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 100,
			BurstSize:         10,
		},
		Rotation: RotationConfig{
			RestartOnRotate:     true,
			RestartDelaySeconds: 2,
		},
		Supervisor: SupervisorConfig{
			RestartCommand:  []string{"make", "start-prod-bg"},
			GraceSeconds:    5,
			KillWaitSeconds: 2,
		},
		Maintenance: MaintenanceConfig{
			MaxSizeMB: 50,
			KeepDays:  7,
		},
		Schedule: ScheduleConfig{
			TickSeconds:        60,
			DailyHour:          2,
			DailyMinute:        0,
			RotationCheckHours: 6,
		},
	}
}

// Load reads <home>/config.yaml, applies env overrides and defaults.
// A missing config file is not an error; the daemon starts with defaults
// and an empty credential pool.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create clawgate home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	return cfg, nil
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CLAWGATE_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("CLAWGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLAWGATE_RESTART_ON_ROTATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse CLAWGATE_RESTART_ON_ROTATE: %w", err)
		}
		cfg.Rotation.RestartOnRotate = b
	}
	if v := os.Getenv("CLAWGATE_CREDENTIALS"); strings.TrimSpace(v) != "" {
		creds, err := ParseCredentialsJSON([]byte(v))
		if err != nil {
			return fmt.Errorf("parse CLAWGATE_CREDENTIALS: %w", err)
		}
		cfg.Credentials = creds
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8010"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 100
	}
	if cfg.RateLimit.BurstSize <= 0 {
		cfg.RateLimit.BurstSize = 10
	}
	if cfg.Rotation.RestartDelaySeconds <= 0 {
		cfg.Rotation.RestartDelaySeconds = 2
	}
	if len(cfg.Rotation.ShellFiles) == 0 {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			cfg.Rotation.ShellFiles = []string{
				filepath.Join(home, ".bash_profile"),
				filepath.Join(home, ".bashrc"),
				filepath.Join(home, ".zshrc"),
			}
		}
	}
	if cfg.Supervisor.PIDFile == "" {
		cfg.Supervisor.PIDFile = filepath.Join(cfg.HomeDir, "clawgate.pid")
	}
	if len(cfg.Supervisor.RestartCommand) == 0 {
		cfg.Supervisor.RestartCommand = []string{"make", "start-prod-bg"}
	}
	if cfg.Supervisor.HealthURL == "" {
		cfg.Supervisor.HealthURL = "http://" + cfg.BindAddr + "/healthz"
	}
	if cfg.Supervisor.GraceSeconds <= 0 {
		cfg.Supervisor.GraceSeconds = 5
	}
	if cfg.Supervisor.KillWaitSeconds <= 0 {
		cfg.Supervisor.KillWaitSeconds = 2
	}
	if cfg.Maintenance.LogFile == "" {
		cfg.Maintenance.LogFile = filepath.Join(cfg.HomeDir, "clawgate.log")
	}
	if cfg.Maintenance.MaxSizeMB <= 0 {
		cfg.Maintenance.MaxSizeMB = 50
	}
	if cfg.Maintenance.KeepDays <= 0 {
		cfg.Maintenance.KeepDays = 7
	}
	if cfg.Schedule.TickSeconds <= 0 {
		cfg.Schedule.TickSeconds = 60
	}
	if cfg.Schedule.DailyHour < 0 || cfg.Schedule.DailyHour > 23 {
		cfg.Schedule.DailyHour = 2
	}
	if cfg.Schedule.DailyMinute < 0 || cfg.Schedule.DailyMinute > 59 {
		cfg.Schedule.DailyMinute = 0
	}
	if cfg.Schedule.RotationCheckHours <= 0 {
		cfg.Schedule.RotationCheckHours = 6
	}
}

// RestartDelay returns the configured pre-restart drain delay.
func (c Config) RestartDelay() time.Duration {
	return time.Duration(c.Rotation.RestartDelaySeconds) * time.Second
}
