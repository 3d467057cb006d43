// Package config provides configuration management for orka.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for orka.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PortPool     PortPoolConfig     `mapstructure:"portPool"`
	Mux          MuxConfig          `mapstructure:"mux"`
	AgentCLI     AgentCLIConfig     `mapstructure:"agentCli"`
	Viewer       ViewerConfig       `mapstructure:"viewer"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Events       EventsConfig       `mapstructure:"events"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// StorageConfig holds PersistenceStore locations.
type StorageConfig struct {
	Root    string `mapstructure:"root"`    // <storageRoot> of spec.md §6
	Exports string `mapstructure:"exports"` // exportFork artifact directory
}

// PortPoolConfig bounds the ports handed to viewer processes.
type PortPoolConfig struct {
	MinPort int `mapstructure:"minPort"`
	MaxPort int `mapstructure:"maxPort"`
}

// MuxConfig configures the terminal multiplexer CLI wrapped by MuxDriver.
type MuxConfig struct {
	Binary        string `mapstructure:"binary"`        // e.g. "tmux"
	SessionPrefix string `mapstructure:"sessionPrefix"` // disambiguates orka's mux sessions on a shared host
}

// AgentCLIConfig configures the wrapped AI CLI subprocess (pass-through per spec.md §6).
type AgentCLIConfig struct {
	Binary      string `mapstructure:"binary"`
	ResumeFlag  string `mapstructure:"resumeFlag"`  // e.g. "--resume"
	ForkCommand string `mapstructure:"forkCommand"` // in-session command that starts a fork
}

// ViewerConfig configures the HTTP terminal-viewer subprocess.
type ViewerConfig struct {
	Binary        string `mapstructure:"binary"`
	RestartBudget int    `mapstructure:"restartBudget"` // bounded retries before giving up
	StartupDelay  int    `mapstructure:"startupDelayMs"`
}

// PolicyConfig configures the remote DecisionPolicy chat-completion backend.
type PolicyConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	APIKey      string `mapstructure:"apiKey"`
	Model       string `mapstructure:"model"`
	TimeoutMs   int    `mapstructure:"timeoutMs"`
	HistorySize int    `mapstructure:"historySize"`
}

// NotificationConfig configures the pluggable NotificationSink.
type NotificationConfig struct {
	Provider string                 `mapstructure:"provider"` // "apprise", "none"
	Config   map[string]interface{} `mapstructure:"config"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// EventsConfig configures the internal pub/sub bus (NATSConfig.URL empty
// means the in-memory bus, matching the teacher's events/bus default).
type EventsConfig struct {
	NATS NATSConfig `mapstructure:"nats"`
}

// NATSConfig configures the optional NATS-backed EventBus.
type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty selects the in-memory bus
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (p *PolicyConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("storage.root", "~/.orka/state")
	v.SetDefault("storage.exports", "~/.orka/exports")

	v.SetDefault("portPool.minPort", 29000)
	v.SetDefault("portPool.maxPort", 29199)

	v.SetDefault("mux.binary", "tmux")
	v.SetDefault("mux.sessionPrefix", "orka")

	v.SetDefault("agentCli.binary", "claude")
	v.SetDefault("agentCli.resumeFlag", "--resume")
	v.SetDefault("agentCli.forkCommand", "/fork")

	v.SetDefault("viewer.binary", "orka-viewer")
	v.SetDefault("viewer.restartBudget", 5)
	v.SetDefault("viewer.startupDelayMs", 150)

	v.SetDefault("policy.endpoint", "")
	v.SetDefault("policy.apiKey", "")
	v.SetDefault("policy.model", "default")
	v.SetDefault("policy.timeoutMs", 15000)
	v.SetDefault("policy.historySize", 20)

	v.SetDefault("notification.provider", "none")
	v.SetDefault("notification.config", map[string]interface{}{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("events.nats.url", "")
	v.SetDefault("events.nats.clientId", "orkad")
	v.SetDefault("events.nats.maxReconnects", 10)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ORKA_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("policy.endpoint", "ORKA_POLICY_ENDPOINT")
	_ = v.BindEnv("policy.apiKey", "ORKA_POLICY_API_KEY")
	_ = v.BindEnv("portPool.minPort", "ORKA_PORT_POOL_MIN")
	_ = v.BindEnv("portPool.maxPort", "ORKA_PORT_POOL_MAX")
	_ = v.BindEnv("logging.level", "ORKA_LOG_LEVEL")
	_ = v.BindEnv("events.nats.url", "ORKA_EVENTS_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orka/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.PortPool.MinPort <= 0 || cfg.PortPool.MaxPort <= 0 {
		errs = append(errs, "portPool.minPort and portPool.maxPort must be positive")
	}
	if cfg.PortPool.MinPort > cfg.PortPool.MaxPort {
		errs = append(errs, "portPool.minPort must not exceed portPool.maxPort")
	}
	if cfg.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
