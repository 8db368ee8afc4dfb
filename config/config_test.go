package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/notifier"
)

// clearEnv keeps the host environment out of a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "DATABASE_URL", "INFLUX_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, time.Minute, cfg.Runner.Interval)
	assert.Equal(t, 1, cfg.Runner.Concurrency)
	assert.Equal(t, time.Minute, cfg.Runner.CacheTTL)
	assert.Equal(t, notifier.KindLog, cfg.Notifier.Kind)
	assert.Equal(t, "succeeded", cfg.Notifier.Succeeded)
	assert.Equal(t, "failed", cfg.Notifier.Failed)
	assert.Equal(t, notifier.DefaultSubjectPrefix, cfg.Notifier.NATS.SubjectPrefix)
	assert.Equal(t, "INFO", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "checkers.yaml")
	content := `
server:
  port: 9090
database:
  driver: sqlite3
  url: file:checkers.db
runner:
  interval: 30s
  concurrency: 4
  cycle_timeout: 10s
  step_limit: 5000
  checkers_file: checkers.d/orders.yaml
notifier:
  kind: kafka
  succeeded: checks-ok
  failed: checks-alarm
  kafka:
    brokers:
      - kafka-1:9092
      - kafka-2:9092
    partitions: 3
connections:
  warehouse:
    driver: postgres
    dsn: postgres://reader@warehouse/orders
log:
  level: debug
  sample_rate: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "defaults fill what the file leaves out")
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "file:checkers.db", cfg.Database.URL)
	assert.Equal(t, "migrations", cfg.Database.Migrations)
	assert.Equal(t, 30*time.Second, cfg.Runner.Interval)
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Runner.CycleTimeout)
	assert.Equal(t, int64(5000), cfg.Runner.StepLimit)
	assert.Equal(t, "checkers.d/orders.yaml", cfg.Runner.CheckersFile)
	assert.Equal(t, notifier.KindKafka, cfg.Notifier.Kind)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notifier.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Notifier.Kafka.Partitions)
	assert.Equal(t, "checks-ok", cfg.Notifier.Destinations().Succeeded)
	assert.Equal(t, "checks-alarm", cfg.Notifier.Destinations().Failed)
	assert.Equal(t, map[string]datasource.ConnConfig{
		"warehouse": {Driver: "postgres", DSN: "postgres://reader@warehouse/orders"},
	}, cfg.Connections)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Log.SampleRate)
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://checkers@db/checkers?sslmode=disable")
	t.Setenv("CHECKERS_DATABASE_DRIVER", "postgres")
	t.Setenv("CHECKERS_RUNNER_INTERVAL", "5s")
	t.Setenv("CHECKERS_NOTIFIER_KIND", "nats")
	t.Setenv("CHECKERS_NOTIFIER_NATS_URL", "nats://bus:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://checkers@db/checkers?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 5*time.Second, cfg.Runner.Interval)
	assert.Equal(t, notifier.KindNATS, cfg.Notifier.Kind)
	assert.Equal(t, "nats://bus:4222", cfg.Notifier.NATS.URL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "checkers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("CHECKERS_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server config",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "invalid database config",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Database.Driver = DriverPostgres },
			wantErr: "invalid database config",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Runner.Concurrency = 0 },
			wantErr: "runner.concurrency",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Runner.Interval = 0 },
			wantErr: "runner.interval",
		},
		{
			name:    "unknown notifier",
			mutate:  func(c *Config) { c.Notifier.Kind = "smtp" },
			wantErr: "unknown notifier kind",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Notifier.Kind = notifier.KindKafka },
			wantErr: "brokers",
		},
		{
			name:    "same destinations",
			mutate:  func(c *Config) { c.Notifier.Failed = c.Notifier.Succeeded },
			wantErr: "destinations must differ",
		},
		{
			name: "connection without dsn",
			mutate: func(c *Config) {
				c.Connections = map[string]datasource.ConnConfig{"w": {Driver: DriverPostgres}}
			},
			wantErr: "dsn is required",
		},
		{
			name: "connection with unknown driver",
			mutate: func(c *Config) {
				c.Connections = map[string]datasource.ConnConfig{"w": {Driver: "oracle", DSN: "x"}}
			},
			wantErr: "unsupported driver",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "invalid log config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestString_OmitsCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.URL = "postgres://user:secret@db/checkers"
	cfg.Influx.Token = "secret-token"

	s := cfg.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "Port: 8080")
}
