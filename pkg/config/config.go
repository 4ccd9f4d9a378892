package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath = "WEBHOOKRELAY_CONFIG"
	envConfigFile = "CONFIG_FILE"
	envDebug      = "DEBUG"
	envHost       = "HOST"
	envPort       = "PORT"
	envTestMode   = "TEST_MODE"

	DefaultTimeoutSeconds = 30
	DefaultRetryAttempts  = 3
	DefaultLogLevel       = "INFO"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8080
)

// Config is the relay configuration document loaded from config.yml.
type Config struct {
	Services map[string]ServiceConfig `yaml:"services"`
	Global   GlobalConfig             `yaml:"global"`
	Server   ServerConfig             `yaml:"server"`
	Logging  LoggingConfig            `yaml:"logging"`
}

// ServiceConfig describes one inbound service and where it is forwarded.
type ServiceConfig struct {
	Target      string `yaml:"target"`
	WebhookURL  string `yaml:"webhook_url"`
	Description string `yaml:"description,omitempty"`
	// SlackWebhook optionally receives a best-effort copy of the original payload.
	SlackWebhook string `yaml:"slack_webhook,omitempty"`
}

// GlobalConfig holds settings shared by every service.
type GlobalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// RetryAttempts is accepted for compatibility; delivery is attempted once.
	RetryAttempts int    `yaml:"retry_attempts"`
	LogLevel      string `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `yaml:"format,omitempty"`
	Level     string `yaml:"level,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// UnmarshalYAML applies defaults before decoding so absent blocks keep them.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig(Default())
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*c = Config(raw)
	c.normalize()
	return nil
}

// Default returns a configuration with no services and default settings.
func Default() Config {
	return Config{
		Services: map[string]ServiceConfig{},
		Global: GlobalConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			RetryAttempts:  DefaultRetryAttempts,
			LogLevel:       DefaultLogLevel,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func (c *Config) normalize() {
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	if c.Global.TimeoutSeconds <= 0 {
		c.Global.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Global.RetryAttempts < 0 {
		c.Global.RetryAttempts = DefaultRetryAttempts
	}
	if strings.TrimSpace(c.Global.LogLevel) == "" {
		c.Global.LogLevel = DefaultLogLevel
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = c.Global.LogLevel
	}
}

// Parse decodes a YAML configuration document.
func Parse(content []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

// Load reads and parses the configuration document at path. Environment
// overrides are not applied; see ApplyEnvOverrides.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(content)
}

// ApplyEnvOverrides injects selected env-driven settings on top of file config.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if host := strings.TrimSpace(os.Getenv(envHost)); host != "" {
		cfg.Server.Host = host
	}

	if rawPort := strings.TrimSpace(os.Getenv(envPort)); rawPort != "" {
		if port, err := strconv.Atoi(rawPort); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}

	if rawDebug := strings.TrimSpace(os.Getenv(envDebug)); rawDebug != "" {
		cfg.Server.Debug = ParseBool(rawDebug)
	}
}

// TestModeEnabled reports whether TEST_MODE asks serve to probe and exit.
func TestModeEnabled() bool {
	return ParseBool(os.Getenv(envTestMode))
}

// ParseBool accepts the usual truthy spellings; everything else is false.
func ParseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ResolvePath resolves the active config file location.
//
// Precedence is the explicit path, then WEBHOOKRELAY_CONFIG, then CONFIG_FILE,
// then cwd-local fallback paths.
func ResolvePath(explicit string) (string, error) {
	if value := strings.TrimSpace(explicit); value != "" {
		return value, nil
	}

	for _, key := range []string{envConfigPath, envConfigFile} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value, nil
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.yml"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.yml not found (checked %s)", strings.Join(candidates, ", "))
}
