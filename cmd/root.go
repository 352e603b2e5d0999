package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/zjrosen/warder/internal/config"
	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/paths"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool
	stateDir  string

	// viper is a custom viper instance with "::" as key delimiter instead
	// of "." so that room/template names containing dots are never
	// mistaken for nested config paths.
	viper = viperlib.NewWithOptions(viperlib.KeyDelimiter("::"))
)

var rootCmd = &cobra.Command{
	Use:     "warder",
	Short:   "A local supervisor for parallel AI coding workers",
	Long:    `warder coordinates worker processes grouped into rooms, distributing tasks and reconciling file edits.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: WARDER_CONFIG or ~/.config/warder/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "",
		"directory for the control socket and persisted room snapshot")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: WARDER_DEBUG=1)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("socket::request_timeout", defaults.Socket.RequestTimeout)
	viper.SetDefault("dashboard::addr", defaults.Dashboard.Addr)
	viper.SetDefault("dashboard::snapshot_interval", defaults.Dashboard.SnapshotInterval)
	viper.SetDefault("dashboard::max_snapshot_bytes", defaults.Dashboard.MaxSnapshotBytes)
	viper.SetDefault("rooms::max_rooms", defaults.Rooms.MaxRooms)
	viper.SetDefault("rooms::default_template", defaults.Rooms.DefaultTemplate)
	viper.SetDefault("rooms::delete_grace_period", defaults.Rooms.DeleteGracePeriod)
	viper.SetDefault("workers::max_tasks_per_worker", defaults.Workers.MaxTasksPerWorker)
	viper.SetDefault("workers::startup_timeout", defaults.Workers.StartupTimeout)
	viper.SetDefault("workers::heartbeat_interval", defaults.Workers.HeartbeatInterval)
	viper.SetDefault("workers::missed_heartbeat_limit", defaults.Workers.MissedHeartbeatLimit)
	viper.SetDefault("workers::kill_grace_period", defaults.Workers.KillGracePeriod)
	viper.SetDefault("workers::restart_policy", defaults.Workers.RestartPolicy)
	viper.SetDefault("workers::max_restarts", defaults.Workers.MaxRestarts)
	viper.SetDefault("workers::restart_backoff_min", defaults.Workers.RestartBackoffMin)
	viper.SetDefault("workers::restart_backoff_max", defaults.Workers.RestartBackoffMax)
	viper.SetDefault("scheduler::tick_interval", defaults.Scheduler.TickInterval)
	viper.SetDefault("scheduler::load_score_alpha", defaults.Scheduler.LoadScoreAlpha)
	viper.SetDefault("scheduler::ack_window", defaults.Scheduler.AckWindow)
	viper.SetDefault("scheduler::max_attempts", defaults.Scheduler.MaxAttempts)
	viper.SetDefault("scheduler::cooldown_base", defaults.Scheduler.CooldownBase)
	viper.SetDefault("filesync::excludes", defaults.FileSync.Excludes)
	viper.SetDefault("filesync::debounce_window", defaults.FileSync.DebounceWindow)
	viper.SetDefault("filesync::history_depth", defaults.FileSync.HistoryDepth)
	viper.SetDefault("tracing::exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing::otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing::sample_rate", defaults.Tracing.SampleRate)

	configPath := cfgFile
	if configPath == "" {
		configPath = os.Getenv("WARDER_CONFIG")
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home + "/.config/warder")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := configPath
			if defaultPath == "" {
				home, _ := os.UserHomeDir()
				defaultPath = home + "/.config/warder/config.yaml"
			}
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)

	if stateDir != "" {
		cfg.StateDir = stateDir
	}
}

// resolvedStateDir returns the effective state directory, resolving the
// default the way paths.ResolveStateDir does.
func resolvedStateDir() (string, error) {
	if cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	return paths.ResolveStateDir("")
}

// controlSocketPath returns the control socket path this invocation
// should dial or bind.
func controlSocketPath() (string, error) {
	if cfg.Socket.Path != "" {
		return cfg.Socket.Path, nil
	}
	dir, err := resolvedStateDir()
	if err != nil {
		return "", err
	}
	return paths.SocketPath(dir), nil
}

func maybeInitLogging(prefix string) func() {
	debug := os.Getenv("WARDER_DEBUG") != "" || debugFlag
	if !debug {
		return func() {}
	}
	logPath := os.Getenv("WARDER_LOG")
	if logPath == "" {
		logPath = "warder-debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warder: initializing logging: %v\n", err)
		return func() {}
	}
	if level := os.Getenv("WARDER_LOG_LEVEL"); level != "" {
		applyLogLevel(level)
	}
	return cleanup
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		log.SetMinLevel(log.LevelDebug)
	case "info":
		log.SetMinLevel(log.LevelInfo)
	case "warn":
		log.SetMinLevel(log.LevelWarn)
	case "error":
		log.SetMinLevel(log.LevelError)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string, called from main with ldflags.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
