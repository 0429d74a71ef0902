package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "timecapsule/internal/common/config"

	"gopkg.in/yaml.v3"
)

// Local storage backends
const (
	LocalBackendSQLite = "sqlite"
	LocalBackendRedis  = "redis"
	LocalBackendMemory = "memory"
)

// Remote storage backends
const (
	RemoteBackendPostgres = "postgres"
	RemoteBackendREST     = "rest"
	RemoteBackendMemory   = "memory"
	RemoteBackendDisabled = "disabled"
)

// Config timecapsule service configuration
type Config struct {
	HTTP HTTPConfig `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
	Auth   AuthConfig   `yaml:"auth"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// HTTPConfig API listener settings
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LocalConfig on-device store selection
type LocalConfig struct {
	Backend string                 `yaml:"backend"`
	SQLite  commoncfg.SQLiteConfig `yaml:"sqlite"`
	Redis   commoncfg.RedisConfig  `yaml:"redis"`
}

// RemoteConfig remote response table selection
type RemoteConfig struct {
	Backend  string                   `yaml:"backend"`
	Timeout  time.Duration            `yaml:"timeout"`
	Database commoncfg.DatabaseConfig `yaml:"database"`
	Supabase SupabaseConfig           `yaml:"supabase"`
}

// SupabaseConfig hosted PostgREST endpoint
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
	Table   string `yaml:"table"`
}

// AuthConfig identity settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// DemoBuild enables demo profiles; production builds leave it off.
	DemoBuild bool `yaml:"demo_build"`
}

// MQTTConfig change notification settings (disabled by default)
type MQTTConfig struct {
	Enabled              bool   `yaml:"enabled"`
	TopicPrefix          string `yaml:"topic_prefix"`
	commoncfg.MQTTConfig `yaml:",inline"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 60 * time.Second
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Local.Backend = LocalBackendSQLite
	cfg.Local.SQLite.Path = "timecapsule.db"
	cfg.Local.SQLite.BusyTimeout = 5 * time.Second
	cfg.Local.Redis.Addr = "localhost:6379"

	cfg.Remote.Backend = RemoteBackendDisabled
	cfg.Remote.Timeout = 5 * time.Second
	cfg.Remote.Database.Host = "localhost"
	cfg.Remote.Database.Port = 5432
	cfg.Remote.Database.User = "postgres"
	cfg.Remote.Database.Password = "postgres"
	cfg.Remote.Database.Database = "timecapsule"
	cfg.Remote.Database.SSLMode = "disable"
	cfg.Remote.Supabase.Table = "user_responses"

	cfg.MQTT.TopicPrefix = "timecapsule"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "timecapsule-data"
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ReadTimeout = parseDuration(os.Getenv("HTTP_READ_TIMEOUT"), cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = parseDuration(os.Getenv("HTTP_WRITE_TIMEOUT"), cfg.HTTP.WriteTimeout)
	cfg.HTTP.IdleTimeout = parseDuration(os.Getenv("HTTP_IDLE_TIMEOUT"), cfg.HTTP.IdleTimeout)
	cfg.HTTP.ShutdownTimeout = parseDuration(os.Getenv("HTTP_SHUTDOWN_TIMEOUT"), cfg.HTTP.ShutdownTimeout)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Local.Backend = getEnv("LOCAL_BACKEND", cfg.Local.Backend)
	cfg.Local.SQLite.LoadFromEnv("LOCAL_SQLITE")
	cfg.Local.Redis.LoadFromEnv("REDIS")

	cfg.Remote.Backend = getEnv("REMOTE_BACKEND", cfg.Remote.Backend)
	cfg.Remote.Timeout = parseDuration(os.Getenv("REMOTE_TIMEOUT"), cfg.Remote.Timeout)
	cfg.Remote.Database.LoadFromEnv("DB")
	cfg.Remote.Supabase.URL = getEnv("SUPABASE_URL", cfg.Remote.Supabase.URL)
	cfg.Remote.Supabase.AnonKey = getEnv("SUPABASE_ANON_KEY", cfg.Remote.Supabase.AnonKey)
	cfg.Remote.Supabase.Table = getEnv("SUPABASE_TABLE", cfg.Remote.Supabase.Table)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.DemoBuild = parseBool(os.Getenv("DEMO_BUILD"), cfg.Auth.DemoBuild)

	cfg.MQTT.Enabled = parseBool(os.Getenv("MQTT_ENABLED"), cfg.MQTT.Enabled)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")
}

// Validate rejects unknown backends and incomplete remote settings
func (c *Config) Validate() error {
	switch c.Local.Backend {
	case LocalBackendSQLite, LocalBackendRedis, LocalBackendMemory:
	default:
		return fmt.Errorf("unknown LOCAL_BACKEND %q", c.Local.Backend)
	}
	switch c.Remote.Backend {
	case RemoteBackendPostgres, RemoteBackendMemory, RemoteBackendDisabled:
	case RemoteBackendREST:
		if c.Remote.Supabase.URL == "" || c.Remote.Supabase.AnonKey == "" {
			return fmt.Errorf("REMOTE_BACKEND=rest requires SUPABASE_URL and SUPABASE_ANON_KEY")
		}
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.Remote.Backend)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
