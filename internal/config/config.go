// Package config loads process configuration from a YAML file, defaults,
// and REMIX_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration shared by cmd/server and cmd/selfplay.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Game     GameConfig     `mapstructure:"game"`
	Replay   ReplayConfig   `mapstructure:"replay"`
}

// ServerConfig configures the relay.
type ServerConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	WSPath          string        `mapstructure:"ws_path"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the room store.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	RemoteURL  string `mapstructure:"remote_url"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProtocolConfig holds the guest join handshake and store call limits.
type ProtocolConfig struct {
	JoinAttempts   int           `mapstructure:"join_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
}

// GameConfig seeds the shuffler. Zero means a random seed.
type GameConfig struct {
	Seed uint64 `mapstructure:"seed"`
}

type ReplayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRemote   = "remote"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sqlite_path", "remix.db")
	v.SetDefault("storage.remote_url", "")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "remix")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("protocol.join_attempts", 4)
	v.SetDefault("protocol.attempt_timeout", 10*time.Second)
	v.SetDefault("protocol.retry_delay", time.Second)
	v.SetDefault("protocol.store_timeout", 5*time.Second)

	v.SetDefault("game.seed", 0)

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.dir", "replays")
}

// Load reads path (skipped when empty), applies environment overrides such
// as REMIX_STORAGE_DRIVER, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REMIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the processes cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn is required for the %s driver", DriverPostgres)
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("config: storage.sqlite_path is required for the %s driver", DriverSQLite)
		}
	case DriverRemote:
		if c.Storage.RemoteURL == "" {
			return fmt.Errorf("config: storage.remote_url is required for the %s driver", DriverRemote)
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}

	if c.Protocol.JoinAttempts < 1 {
		return fmt.Errorf("config: protocol.join_attempts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"protocol.attempt_timeout": c.Protocol.AttemptTimeout,
		"protocol.retry_delay":     c.Protocol.RetryDelay,
		"protocol.store_timeout":   c.Protocol.StoreTimeout,
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("config: server.ws_path must start with /")
	}
	if c.Replay.Enabled && c.Replay.Dir == "" {
		return fmt.Errorf("config: replay.dir is required when replays are enabled")
	}
	return nil
}
