// Package config loads the gateway's configuration from environment
// variables (prefixed KANDEV_), an optional config file, and in-code
// defaults, using github.com/spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_seconds"`
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeoutSec) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeoutSec) * time.Second
}

// DatabaseConfig configures the Task Store / Event Log backing store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	DSN      string `mapstructure:"dsn"`    // postgres connection string
}

// NATSConfig configures the optional NATS-backed event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterName   string `mapstructure:"cluster_name"`
	ClientID      string `mapstructure:"client_id"`
}

// DockerConfig configures the optional docker-sandboxed agent transport.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"api_version"`
}

// ExecutionConfig configures Execution Engine timeouts.
type ExecutionConfig struct {
	MaxConcurrentPerHost int           `mapstructure:"max_concurrent_per_host"`
	AdapterWarmup        time.Duration `mapstructure:"adapter_warmup"`
	AdapterIdleTimeout   time.Duration `mapstructure:"adapter_idle_timeout"`
	AbortGrace           time.Duration `mapstructure:"abort_grace"`
	// Sandbox, when true, runs each agent's process inside the Docker
	// image registered for its agent type (internal/agent/registry)
	// instead of as a bare host subprocess.
	Sandbox bool `mapstructure:"sandbox"`
	// DispatchWaitTimeout bounds how long startExecution waits for a busy
	// host to free capacity (the per-agent-type FIFO dispatch queue)
	// before giving up with NoHostAvailable.
	DispatchWaitTimeout time.Duration `mapstructure:"dispatch_wait_timeout"`
}

// WorktreeConfig configures the Worktree Manager.
type WorktreeConfig struct {
	Root          string        `mapstructure:"root"`
	CreateTimeout time.Duration `mapstructure:"create_timeout"`
	// ProjectRoot is the base directory under which each project's git
	// checkout lives (<ProjectRoot>/<projectId>), used by the default
	// RepoPathResolver. Project CRUD itself is out of scope.
	ProjectRoot string `mapstructure:"project_root"`
}

// HostRegistryConfig configures the Host Registry.
type HostRegistryConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LivenessWindow    time.Duration `mapstructure:"liveness_window"`
	// LocalHost registers the gateway's own machine as a worker host at
	// startup, so a single-binary deployment can execute tasks without
	// any remote host connecting over the host control channel.
	LocalHost bool `mapstructure:"local_host"`
}

// Config is the fully-resolved gateway configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	HostRegistry HostRegistryConfig `mapstructure:"host_registry"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	DataDir      string             `mapstructure:"data_dir"`
	MemoryEnhanced bool             `mapstructure:"memory_enhanced"`
}

// LoggingConfig mirrors logger.LoggingConfig so config.Load has no import cycle
// with internal/common/logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 30)

	// database.path intentionally has no default: the Task Store derives
	// <data_dir>/tasks.db when it is unset, keeping it apart from the
	// Event Log's executions.db.
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "")

	v.SetDefault("docker.api_version", "")

	v.SetDefault("execution.max_concurrent_per_host", 5)
	v.SetDefault("execution.adapter_warmup", 60*time.Second)
	v.SetDefault("execution.adapter_idle_timeout", 10*time.Minute)
	v.SetDefault("execution.abort_grace", 5*time.Second)
	v.SetDefault("execution.sandbox", true)
	v.SetDefault("execution.dispatch_wait_timeout", 30*time.Second)

	v.SetDefault("worktree.root", "./data/worktrees")
	v.SetDefault("worktree.create_timeout", 30*time.Second)
	v.SetDefault("worktree.project_root", "./data/projects")

	v.SetDefault("host_registry.heartbeat_interval", 15*time.Second)
	v.SetDefault("host_registry.liveness_window", 60*time.Second)
	v.SetDefault("host_registry.local_host", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("data_dir", "./data")
	v.SetDefault("memory_enhanced", false)
}

// Load reads configuration from (in increasing precedence) defaults, an
// optional ./config.yaml / ./config.json, and KANDEV_-prefixed env vars.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath behaves like Load but also searches the given directory for
// a config file.
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KANDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if path != "" {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database.driver: %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver=postgres")
	}
	return nil
}
