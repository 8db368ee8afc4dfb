package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/notifier"
	"github.com/liamcoop/checkers/runner"
)

// EnvPrefix prefixes every environment override, e.g. CHECKERS_RUNNER_INTERVAL
const EnvPrefix = "CHECKERS"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config is the service configuration
type Config struct {
	Server      ServerConfig                     `mapstructure:"server"`
	Database    DatabaseConfig                   `mapstructure:"database"`
	Runner      RunnerConfig                     `mapstructure:"runner"`
	Notifier    notifier.Config                  `mapstructure:"notifier"`
	Connections map[string]datasource.ConnConfig `mapstructure:"connections"`
	Influx      datasource.InfluxConfig          `mapstructure:"influx"`
	Log         LogConfig                        `mapstructure:"log"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig selects the checker store
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=memory postgres sqlite3"`
	URL        string `mapstructure:"url" validate:"required_unless=Driver memory"`
	// Migrations holds one directory of migrations per driver
	Migrations string `mapstructure:"migrations"`
}

// RunnerConfig configures scheduling and evaluation
type RunnerConfig struct {
	runner.Config `mapstructure:",squash"`

	StepLimit    int64         `mapstructure:"step_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CheckersFile string        `mapstructure:"checkers_file"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level      string `mapstructure:"level"`
	SampleRate int    `mapstructure:"sample_rate"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrations", "migrations")

	// Runner defaults
	defaults := runner.DefaultConfig()
	v.SetDefault("runner.interval", defaults.Interval)
	v.SetDefault("runner.concurrency", defaults.Concurrency)
	v.SetDefault("runner.cycle_timeout", time.Duration(0))
	v.SetDefault("runner.step_limit", int64(0))
	v.SetDefault("runner.cache_ttl", runner.DefaultCacheConfig().TTL)
	v.SetDefault("runner.checkers_file", "")

	// Notifier defaults
	v.SetDefault("notifier.kind", notifier.KindLog)
	v.SetDefault("notifier.succeeded", "succeeded")
	v.SetDefault("notifier.failed", "failed")
	v.SetDefault("notifier.kafka.brokers", []string{})
	v.SetDefault("notifier.kafka.partitions", 1)
	v.SetDefault("notifier.kafka.replication_factor", 1)
	v.SetDefault("notifier.kafka.write_timeout", 10*time.Second)
	v.SetDefault("notifier.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notifier.nats.subject_prefix", notifier.DefaultSubjectPrefix)
	v.SetDefault("notifier.nats.max_age", time.Duration(0))

	// Influx defaults
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")

	// Log defaults
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.sample_rate", 1)
}

// BindEnv binds the CHECKERS_ prefixed variables and the bare DATABASE_URL
// and PORT variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	v.BindEnv("influx.token", EnvPrefix+"_INFLUX_TOKEN", "INFLUX_TOKEN")
}

// Load reads the configuration from path, when given, and the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper loads and validates configuration from a prepared Viper
// instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot start with
func (c *Config) Validate() error {
	if err := validate.Struct(c.Server); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := validate.Struct(c.Database); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}

	if c.Runner.Interval <= 0 {
		return fmt.Errorf("runner.interval must be positive, got %s", c.Runner.Interval)
	}
	if c.Runner.Concurrency < 1 {
		return fmt.Errorf("runner.concurrency must be at least 1, got %d", c.Runner.Concurrency)
	}
	if c.Runner.CycleTimeout < 0 {
		return fmt.Errorf("runner.cycle_timeout cannot be negative")
	}

	switch strings.ToLower(c.Notifier.Kind) {
	case notifier.KindMemory, notifier.KindLog:
	case notifier.KindKafka:
		if len(c.Notifier.Kafka.Brokers) == 0 {
			return fmt.Errorf("notifier.kafka.brokers is required for the kafka notifier")
		}
	case notifier.KindNATS:
		if c.Notifier.NATS.URL == "" {
			return fmt.Errorf("notifier.nats.url is required for the nats notifier")
		}
	default:
		return fmt.Errorf("unknown notifier kind: %s (must be one of: memory, log, kafka, nats)", c.Notifier.Kind)
	}
	if c.Notifier.Succeeded == c.Notifier.Failed && c.Notifier.Succeeded != "" {
		return fmt.Errorf("notifier destinations must differ, both are %q", c.Notifier.Succeeded)
	}

	for name, conn := range c.Connections {
		switch conn.Driver {
		case DriverPostgres, DriverSQLite:
		default:
			return fmt.Errorf("connection %s: unsupported driver %q", name, conn.Driver)
		}
		if conn.DSN == "" {
			return fmt.Errorf("connection %s: dsn is required", name)
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	return nil
}

// ApplyLogging sets the global log level and sample rate
func (c *Config) ApplyLogging() {
	level, _ := logger.ParseLevel(c.Log.Level)
	logger.SetLevel(level)
	logger.SetSampleRate(c.Log.SampleRate)
}

// String returns a short summary that leaves out credentials
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Port: %d}, Database: {Driver: %s}, Runner: {Interval: %s, Concurrency: %d}, Notifier: {Kind: %s}, Connections: %d}",
		c.Server.Port, c.Database.Driver, c.Runner.Interval, c.Runner.Concurrency, c.Notifier.Kind, len(c.Connections))
}
