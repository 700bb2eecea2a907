// Package config loads the runtime configuration for the querygate
// service from a YAML file, the environment, and .env files.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the querygate service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Guardrails    GuardrailsConfig    `mapstructure:"guardrails"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Events        EventsConfig        `mapstructure:"events"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// GuardrailsConfig tunes the evaluation engine and seeds persona
// configurations at startup. Personas are process-lifetime only and
// re-applied from this file on every boot.
type GuardrailsConfig struct {
	CacheTTL  time.Duration          `mapstructure:"cache_ttl"`
	Breaker   BreakerConfig          `mapstructure:"breaker"`
	Spam      SpamConfig             `mapstructure:"spam"`
	Relevance RelevanceConfig        `mapstructure:"relevance"`
	Personas  map[string]PersonaSeed `mapstructure:"personas"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type SpamConfig struct {
	MaxRepeats int           `mapstructure:"max_repeats"`
	TimeWindow time.Duration `mapstructure:"time_window"`
	MinLength  int           `mapstructure:"min_length"`
	MinWords   int           `mapstructure:"min_words"`
}

type RelevanceConfig struct {
	MinScore float64 `mapstructure:"min_score"`
	MinRatio float64 `mapstructure:"min_ratio"`
}

// PersonaSeed is one persona entry from the config file.
type PersonaSeed struct {
	Enabled    []string                  `mapstructure:"enabled"`
	Guardrails map[string]map[string]any `mapstructure:"guardrails"`
}

type ObservabilityConfig struct {
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

type AdminConfig struct {
	// Token protects the admin surface (persona configuration, metrics
	// reset, event queries). Empty disables those routes.
	Token string `mapstructure:"token"`
}

type EventsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// Options adjusts config loading, mostly for tests.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load reads configuration from defaults, an optional YAML file, and
// QUERYGATE_* environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("QUERYGATE_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("querygate")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("QUERYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration for impossible values.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("missing required configuration: QUERYGATE_REDIS_URL")
	}
	if c.Guardrails.CacheTTL <= 0 {
		return fmt.Errorf("guardrails.cache_ttl must be > 0")
	}
	if c.Guardrails.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("guardrails.breaker.failure_threshold must be > 0")
	}
	if c.Guardrails.Spam.MaxRepeats <= 0 {
		return fmt.Errorf("guardrails.spam.max_repeats must be > 0")
	}
	if c.Guardrails.Relevance.MinScore < 0 || c.Guardrails.Relevance.MinScore > 1 {
		return fmt.Errorf("guardrails.relevance.min_score must be between 0 and 1")
	}
	if c.Guardrails.Relevance.MinRatio < 0 || c.Guardrails.Relevance.MinRatio > 1 {
		return fmt.Errorf("guardrails.relevance.min_ratio must be between 0 and 1")
	}
	if c.Events.Enabled && c.Database.URL == "" {
		return fmt.Errorf("events.enabled requires database.url")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 1)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.run_migrations", false)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("guardrails.cache_ttl", "60s")
	v.SetDefault("guardrails.breaker.failure_threshold", 5)
	v.SetDefault("guardrails.breaker.reset_timeout", "30s")
	v.SetDefault("guardrails.spam.max_repeats", 3)
	v.SetDefault("guardrails.spam.time_window", "60s")
	v.SetDefault("guardrails.spam.min_length", 10)
	v.SetDefault("guardrails.spam.min_words", 3)
	v.SetDefault("guardrails.relevance.min_score", 0.2)
	v.SetDefault("guardrails.relevance.min_ratio", 0.2)

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.retention_days", 30)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
