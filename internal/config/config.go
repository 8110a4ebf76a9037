// Package config defines Beacon's configuration, loaded via viper from a
// yaml file, environment variables (BEACON_ prefix), and flag bindings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Beacon configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Watcher      WatcherConfig      `mapstructure:"watcher"`
	Activity     ActivityConfig     `mapstructure:"activity"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener
type ServerConfig struct {
	// Host is the bind address (default: "127.0.0.1")
	Host string `mapstructure:"host"`
	// Port is the listen port (default: 8181)
	Port int `mapstructure:"port"`
	// SendBufferSize is the per-connection outbound queue length.
	// Writes beyond this while the client is slow drop the connection.
	SendBufferSize int `mapstructure:"send_buffer_size"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OrchestratorConfig controls managed agent processes
type OrchestratorConfig struct {
	// MaxInstances is the concurrency ceiling for active processes (default: 10)
	MaxInstances int `mapstructure:"max_instances"`
	// DefaultExecutable is the agent binary used when a spawn or task
	// request does not name one (default: "claude")
	DefaultExecutable string `mapstructure:"default_executable"`
	// OutputChunkSize is the read buffer size for process stream capture
	OutputChunkSize int `mapstructure:"output_chunk_size"`
}

// ExecutorConfig controls streaming task execution
type ExecutorConfig struct {
	// TimeoutMs is the wall-clock limit per task run (default: 300000)
	TimeoutMs int `mapstructure:"timeout_ms"`
	// DefaultModel is the model selector passed to the agent (default: "sonnet")
	DefaultModel string `mapstructure:"default_model"`
	// SessionWindowMinutes is how recently a project must have been active
	// for a new task to continue its session (default: 30)
	SessionWindowMinutes int `mapstructure:"session_window_minutes"`
}

// Timeout returns the task timeout as a time.Duration.
func (c *ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SessionWindow returns the session continuation window as a time.Duration.
func (c *ExecutorConfig) SessionWindow() time.Duration {
	return time.Duration(c.SessionWindowMinutes) * time.Minute
}

// WatcherConfig controls file system monitoring
type WatcherConfig struct {
	// Ignore is a list of glob patterns for paths to skip
	Ignore []string `mapstructure:"ignore"`
}

// ActivityConfig controls the activity store
type ActivityConfig struct {
	// MaxRecords bounds the in-memory activity ring (default: 1000)
	MaxRecords int `mapstructure:"max_records"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8181,
			SendBufferSize: 256,
		},
		Orchestrator: OrchestratorConfig{
			MaxInstances:      10,
			DefaultExecutable: "claude",
			OutputChunkSize:   4096,
		},
		Executor: ExecutorConfig{
			TimeoutMs:            300000,
			DefaultModel:         "sonnet",
			SessionWindowMinutes: 30,
		},
		Watcher: WatcherConfig{
			Ignore: []string{"**/.git/**", "**/node_modules/**", "**/.DS_Store"},
		},
		Activity: ActivityConfig{
			MaxRecords: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.send_buffer_size", defaults.Server.SendBufferSize)

	viper.SetDefault("orchestrator.max_instances", defaults.Orchestrator.MaxInstances)
	viper.SetDefault("orchestrator.default_executable", defaults.Orchestrator.DefaultExecutable)
	viper.SetDefault("orchestrator.output_chunk_size", defaults.Orchestrator.OutputChunkSize)

	viper.SetDefault("executor.timeout_ms", defaults.Executor.TimeoutMs)
	viper.SetDefault("executor.default_model", defaults.Executor.DefaultModel)
	viper.SetDefault("executor.session_window_minutes", defaults.Executor.SessionWindowMinutes)

	viper.SetDefault("watcher.ignore", defaults.Watcher.Ignore)

	viper.SetDefault("activity.max_records", defaults.Activity.MaxRecords)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.SendBufferSize < 1 {
		errs = append(errs, fmt.Errorf("server.send_buffer_size must be positive, got %d", c.Server.SendBufferSize))
	}
	if c.Orchestrator.MaxInstances < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_instances must be positive, got %d", c.Orchestrator.MaxInstances))
	}
	if c.Orchestrator.DefaultExecutable == "" {
		errs = append(errs, fmt.Errorf("orchestrator.default_executable must not be empty"))
	}
	if c.Orchestrator.OutputChunkSize < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.output_chunk_size must be positive, got %d", c.Orchestrator.OutputChunkSize))
	}
	if c.Executor.TimeoutMs < 1 {
		errs = append(errs, fmt.Errorf("executor.timeout_ms must be positive, got %d", c.Executor.TimeoutMs))
	}
	if c.Executor.SessionWindowMinutes < 0 {
		errs = append(errs, fmt.Errorf("executor.session_window_minutes must not be negative, got %d", c.Executor.SessionWindowMinutes))
	}
	if c.Activity.MaxRecords < 1 {
		errs = append(errs, fmt.Errorf("activity.max_records must be positive, got %d", c.Activity.MaxRecords))
	}

	return errs
}

// ValidationErrors aggregates multiple validation failures into one error.
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	msg := fmt.Sprintf("%d configuration errors:", len(v))
	for _, err := range v {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "beacon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beacon"
	}
	return filepath.Join(home, ".config", "beacon")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
