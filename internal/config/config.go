// Package config provides configuration types and defaults for warder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/warder/internal/log"
)

// Config holds all configuration options for warder.
type Config struct {
	// StateDir is the directory holding the persisted room snapshot and
	// the control socket, when not overridden individually below.
	StateDir string `mapstructure:"state_dir"`

	Socket    SocketConfig    `mapstructure:"socket"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	FileSync  FileSyncConfig  `mapstructure:"filesync"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Flags     map[string]bool `mapstructure:"flags"`
}

// SocketConfig configures the IPC Hub's control socket.
type SocketConfig struct {
	// Path is the Unix-domain socket path. Empty derives a default under
	// StateDir ("control.sock").
	Path string `mapstructure:"path"`

	// RequestTimeout bounds per-request handling.
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DashboardConfig configures the push channel.
type DashboardConfig struct {
	// Addr is the loopback TCP address to bind, e.g. "127.0.0.1:7777".
	Addr string `mapstructure:"addr"`

	// SnapshotInterval controls how often snapshots are emitted.
	// Default: 1s
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`

	// MaxSnapshotBytes bounds a single emitted JSON snapshot.
	// Default: 256 KiB
	MaxSnapshotBytes int `mapstructure:"max_snapshot_bytes"`
}

// RoomsConfig configures the Room Manager.
type RoomsConfig struct {
	// MaxRooms is N_ROOMS, the cap on concurrently existing rooms.
	// Default: 8
	MaxRooms int `mapstructure:"max_rooms"`

	// DefaultTemplate names the template used when none is given to create.
	DefaultTemplate string `mapstructure:"default_template"`

	// DeleteGracePeriod bounds how long delete waits for workers to stop
	// cleanly before force-killing them.
	// Default: 5s
	DeleteGracePeriod time.Duration `mapstructure:"delete_grace_period"`
}

// WorkersConfig configures the Process Supervisor.
type WorkersConfig struct {
	// AllowedCommands is the allow-list of executables that spawn may
	// launch. A ProcessSpawn naming anything else is rejected.
	AllowedCommands []string `mapstructure:"allowed_commands"`

	// MaxTasksPerWorker bounds concurrent tasks a Busy worker may hold
	// before it stops being a scheduling candidate.
	// Default: 4
	MaxTasksPerWorker int `mapstructure:"max_tasks_per_worker"`

	// StartupTimeout bounds Starting -> Idle before the worker is failed.
	// Default: 10s
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// HeartbeatInterval is the expected cadence of worker heartbeats.
	// Default: 30s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// MissedHeartbeatLimit is N, the number of consecutive missed
	// heartbeats before a worker is failed.
	// Default: 2
	MissedHeartbeatLimit int `mapstructure:"missed_heartbeat_limit"`

	// KillGracePeriod bounds how long kill waits after a terminate signal
	// before force-killing.
	// Default: 5s
	KillGracePeriod time.Duration `mapstructure:"kill_grace_period"`

	// RestartPolicy is one of "never", "on-failure", "always".
	// Default: "on-failure"
	RestartPolicy string `mapstructure:"restart_policy"`

	// MaxRestarts bounds on-failure restart attempts.
	// Default: 3
	MaxRestarts int `mapstructure:"max_restarts"`

	// RestartBackoffMin/Max bound the exponential back-off between
	// restart attempts.
	// Defaults: 1s, 30s
	RestartBackoffMin time.Duration `mapstructure:"restart_backoff_min"`
	RestartBackoffMax time.Duration `mapstructure:"restart_backoff_max"`
}

// SchedulerConfig configures the Task Coordinator.
type SchedulerConfig struct {
	// TickInterval is the periodic scheduling tick cadence.
	// Default: 1s
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// LoadScoreAlpha is α in load_score = running_task_count +
	// α·recent_failure_rate.
	// Default: 2
	LoadScoreAlpha float64 `mapstructure:"load_score_alpha"`

	// AckWindow bounds how long a worker has to Ack/Nack an assignment.
	// Default: 5s
	AckWindow time.Duration `mapstructure:"ack_window"`

	// MaxAttempts bounds retries of a failed task before it is terminally
	// Failed.
	// Default: 3
	MaxAttempts int `mapstructure:"max_attempts"`

	// CooldownBase scales the cool-down before a retried task becomes
	// eligible again: CooldownBase * attempt^2.
	// Default: 2s
	CooldownBase time.Duration `mapstructure:"cooldown_base"`
}

// FileSyncConfig configures the File Sync Engine.
type FileSyncConfig struct {
	// Roots are the project directories watched for changes.
	Roots []string `mapstructure:"roots"`

	// Excludes are glob patterns rejected even under a configured root.
	// Default: .git/, node_modules/, target/, build directories.
	Excludes []string `mapstructure:"excludes"`

	// DebounceWindow is the interval within which near-simultaneous
	// changes on one path are treated as conflict candidates.
	// Default: 200ms
	DebounceWindow time.Duration `mapstructure:"debounce_window"`

	// HistoryDepth bounds the per-path ring of recent changes.
	// Default: 16
	HistoryDepth int `mapstructure:"history_depth"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: <state_dir>/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultTracesFilePath returns the default trace export path under dir.
func DefaultTracesFilePath(stateDir string) string {
	if stateDir == "" {
		return ""
	}
	return filepath.Join(stateDir, "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Socket: SocketConfig{
			RequestTimeout: 30 * time.Second,
		},
		Dashboard: DashboardConfig{
			Addr:             "127.0.0.1:7777",
			SnapshotInterval: time.Second,
			MaxSnapshotBytes: 256 * 1024,
		},
		Rooms: RoomsConfig{
			MaxRooms:          8,
			DefaultTemplate:   "default",
			DeleteGracePeriod: 5 * time.Second,
		},
		Workers: WorkersConfig{
			AllowedCommands:      []string{},
			MaxTasksPerWorker:    4,
			StartupTimeout:       10 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			MissedHeartbeatLimit: 2,
			KillGracePeriod:      5 * time.Second,
			RestartPolicy:        "on-failure",
			MaxRestarts:          3,
			RestartBackoffMin:    time.Second,
			RestartBackoffMax:    30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   time.Second,
			LoadScoreAlpha: 2,
			AckWindow:      5 * time.Second,
			MaxAttempts:    3,
			CooldownBase:   2 * time.Second,
		},
		FileSync: FileSyncConfig{
			Excludes:       []string{".git/", "node_modules/", "target/", "build/", "dist/"},
			DebounceWindow: 200 * time.Millisecond,
			HistoryDepth:   16,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the configuration for errors. Zero values use defaults
// at the point of use and are not rejected here.
func Validate(cfg Config) error {
	if cfg.Rooms.MaxRooms < 0 {
		return fmt.Errorf("rooms.max_rooms must be >= 0, got %d", cfg.Rooms.MaxRooms)
	}
	switch cfg.Workers.RestartPolicy {
	case "", "never", "on-failure", "always":
	default:
		return fmt.Errorf("workers.restart_policy must be \"never\", \"on-failure\", or \"always\", got %q", cfg.Workers.RestartPolicy)
	}
	if cfg.Scheduler.LoadScoreAlpha < 0 {
		return fmt.Errorf("scheduler.load_score_alpha must be >= 0, got %v", cfg.Scheduler.LoadScoreAlpha)
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	switch tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with
// explanatory comments.
func DefaultConfigTemplate() string {
	return `# warder configuration

# Directory for the persisted room snapshot and control socket.
# Defaults to $XDG_STATE_HOME/warder or ~/.local/state/warder.
# state_dir: /path/to/state

socket:
  # path: /tmp/warder.sock
  request_timeout: 30s

dashboard:
  addr: "127.0.0.1:7777"
  snapshot_interval: 1s
  max_snapshot_bytes: 262144

rooms:
  max_rooms: 8
  default_template: default
  delete_grace_period: 5s

workers:
  # Commands a ProcessSpawn request is allowed to launch.
  allowed_commands: []
  max_tasks_per_worker: 4
  startup_timeout: 10s
  heartbeat_interval: 30s
  missed_heartbeat_limit: 2
  kill_grace_period: 5s
  restart_policy: on-failure   # never, on-failure, always
  max_restarts: 3
  restart_backoff_min: 1s
  restart_backoff_max: 30s

scheduler:
  tick_interval: 1s
  load_score_alpha: 2
  ack_window: 5s
  max_attempts: 3
  cooldown_base: 2s

filesync:
  roots: []
  excludes:
    - ".git/"
    - "node_modules/"
    - "target/"
    - "build/"
    - "dist/"
  debounce_window: 200ms
  history_depth: 16

tracing:
  enabled: false
  exporter: file
  # file_path: /path/to/state/traces/traces.jsonl
  otlp_endpoint: "localhost:4317"
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
