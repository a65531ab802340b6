// Package config provides configuration parsing and validation for muti-ping.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/muti-ping/internal/health"
	"github.com/postalsys/muti-ping/internal/icmp"
	"github.com/postalsys/muti-ping/internal/logging"
	"github.com/postalsys/muti-ping/internal/ping"
)

// Config represents the complete tool configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Ping   PingConfig   `yaml:"ping"`
	Health HealthConfig `yaml:"health"`
	Output OutputConfig `yaml:"output"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// PingConfig defines the echo session.
type PingConfig struct {
	Count          int           `yaml:"count"`           // highest sequence number sent
	Interval       time.Duration `yaml:"interval"`        // delay before each send
	MinInterval    time.Duration `yaml:"min_interval"`    // floor between sends, 0 = none
	BufferSize     int           `yaml:"buffer_size"`     // receive buffer
	Identifier     *uint16       `yaml:"identifier"`      // unset = derive from pid
	Socket         string        `yaml:"socket"`          // raw, dgram
	ResolveTimeout time.Duration `yaml:"resolve_timeout"` // name lookup bound
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Linger keeps the server up after the session ends so the final
	// statistics can be scraped. 0 serves until interrupted.
	Linger time.Duration `yaml:"linger"`
}

// OutputConfig controls terminal output.
type OutputConfig struct {
	Color string `yaml:"color"` // auto, always, never
}

// Default returns a Config with default values.
func Default() *Config {
	session := ping.DefaultConfig()
	server := health.DefaultServerConfig()

	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Ping: PingConfig{
			Count:          session.MaxEchoes,
			Interval:       session.Interval,
			BufferSize:     session.BufferSize,
			Socket:         string(icmp.ModeRaw),
			ResolveTimeout: 10 * time.Second,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      server.Address,
			ReadTimeout:  server.ReadTimeout,
			WriteTimeout: server.WriteTimeout,
		},
		Output: OutputConfig{
			Color: "auto",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes. Fields absent from data keep
// their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown references are kept as is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if _, err := icmp.ParseSocketMode(c.Ping.Socket); err != nil {
		errs = append(errs, fmt.Sprintf("ping.socket: %v", err))
	}
	if err := c.Session().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ping: %v", err))
	}
	if c.Ping.ResolveTimeout < 0 {
		errs = append(errs, "ping.resolve_timeout must not be negative")
	}

	if c.Health.Enabled {
		if c.Health.Address == "" {
			errs = append(errs, "health.address is required when enabled")
		} else if _, _, err := net.SplitHostPort(c.Health.Address); err != nil {
			errs = append(errs, fmt.Sprintf("invalid health.address: %s", c.Health.Address))
		}
		if c.Health.Linger < 0 {
			errs = append(errs, "health.linger must not be negative")
		}
	}

	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Sprintf("invalid output.color: %s (must be auto, always, or never)", c.Output.Color))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Session returns the echo session settings.
func (c *Config) Session() ping.Config {
	return ping.Config{
		MaxEchoes:   c.Ping.Count,
		Interval:    c.Ping.Interval,
		MinInterval: c.Ping.MinInterval,
		BufferSize:  c.Ping.BufferSize,
		Identifier:  c.Ping.Identifier,
	}
}

// SocketMode returns the configured socket type. Validate has already
// rejected unknown values.
func (c *Config) SocketMode() icmp.SocketMode {
	mode, err := icmp.ParseSocketMode(c.Ping.Socket)
	if err != nil {
		return icmp.ModeRaw
	}
	return mode
}

// String returns the YAML form of the config (for debugging).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
