// Package config loads DataSource configuration from a YAML file and
// SQLWRAP_* environment variables.
package config

import (
	"strings"
	"time"

	platform "github.com/jmgilman/go/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/pool"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// EnvPrefix is prepended to every environment override, e.g. SQLWRAP_DSN or
// SQLWRAP_POOL_MAX_SIZE.
const EnvPrefix = "SQLWRAP"

// Config is the DataSource configuration.
type Config struct {
	// Vendor is a registered vendor name ("sqlite", "postgres", ...).
	Vendor string `mapstructure:"vendor" yaml:"vendor"`
	// DSN is passed to the vendor driver unchanged.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// Pool sizes the physical connection pool.
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`
	// StatementCacheSize is the per-connection prepared statement cache size (0 disables it).
	StatementCacheSize int `mapstructure:"statement_cache_size" yaml:"statement_cache_size"`
	// Trace is a trace specification such as "*=info:adapter=debug". Trace
	// levels are process-wide: a non-empty value replaces the levels of every
	// component, including those of data sources created earlier. Empty leaves
	// them unchanged.
	Trace string `mapstructure:"trace" yaml:"trace"`
	// Metrics enables Prometheus collectors.
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
	// Name labels the data source's metrics. Empty picks "<vendor>-<n>".
	Name string `mapstructure:"name" yaml:"name"`
}

// PoolConfig mirrors pool.Config with file and env friendly keys.
type PoolConfig struct {
	MinSize     int           `mapstructure:"min_size" yaml:"min_size"`
	MaxSize     int           `mapstructure:"max_size" yaml:"max_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	pc := pool.DefaultConfig()
	return Config{
		Vendor: "sqlite",
		Pool: PoolConfig{
			MinSize:     pc.MinSize,
			MaxSize:     pc.MaxSize,
			IdleTimeout: pc.IdleTimeout,
			WaitTimeout: pc.WaitTimeout,
		},
		StatementCacheSize: driver.DefaultStatementCacheSize,
	}
}

// Load reads path (if not empty), applies SQLWRAP_* environment overrides
// on top of the defaults, and validates the result.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"vendor":               "vendor",
	"dsn":                  "dsn",
	"trace":                "trace",
	"metrics":              "metrics",
	"name":                 "name",
	"statement-cache-size": "statement_cache_size",
	"pool-min-size":        "pool.min_size",
	"pool-max-size":        "pool.max_size",
	"pool-wait-timeout":    "pool.wait_timeout",
}

// LoadWithFlags is Load with command line flags taking precedence over the
// environment. Flags that were not set explicitly are ignored.
func LoadWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, platform.WithContext(
						platform.Wrap(err, platform.CodeInvalidConfig, "failed to bind flag"),
						"flag", name)
				}
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, platform.WithContext(
				platform.Wrap(err, platform.CodeInvalidConfig, "failed to read config file"),
				"path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, platform.Wrap(err, platform.CodeInvalidConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("vendor", d.Vendor)
	v.SetDefault("dsn", d.DSN)
	v.SetDefault("pool.min_size", d.Pool.MinSize)
	v.SetDefault("pool.max_size", d.Pool.MaxSize)
	v.SetDefault("pool.idle_timeout", d.Pool.IdleTimeout)
	v.SetDefault("pool.wait_timeout", d.Pool.WaitTimeout)
	v.SetDefault("statement_cache_size", d.StatementCacheSize)
	v.SetDefault("trace", d.Trace)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("name", d.Name)
}

// Validate reports the first problem found as a CodeInvalidConfig error.
func (c Config) Validate() error {
	if c.Vendor == "" {
		return invalid("vendor", "vendor is required")
	}
	if _, err := driver.Lookup(c.Vendor); err != nil {
		return platform.WithContext(
			platform.Wrap(err, platform.CodeInvalidConfig, "unknown vendor"),
			"field", "vendor")
	}
	if c.DSN == "" {
		return invalid("dsn", "dsn is required")
	}
	if c.StatementCacheSize < 0 {
		return invalid("statement_cache_size", "statement cache size must not be negative")
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return platform.WithContext(
			platform.Wrap(err, platform.CodeInvalidConfig, "invalid pool settings"),
			"field", "pool")
	}
	if c.Pool.IdleTimeout < 0 || c.Pool.WaitTimeout < 0 {
		return invalid("pool", "pool timeouts must not be negative")
	}
	if c.Trace != "" {
		if _, err := trace.ParseSpecification(c.Trace); err != nil {
			return platform.WithContext(
				platform.Wrap(err, platform.CodeInvalidConfig, "invalid trace specification"),
				"field", "trace")
		}
	}
	return nil
}

// PoolConfig converts the pool section for pool.New.
func (c Config) PoolConfig() pool.Config {
	return pool.Config{
		MinSize:     c.Pool.MinSize,
		MaxSize:     c.Pool.MaxSize,
		IdleTimeout: c.Pool.IdleTimeout,
		WaitTimeout: c.Pool.WaitTimeout,
	}
}

func invalid(field, msg string) error {
	return platform.WithContext(platform.New(platform.CodeInvalidConfig, msg), "field", field)
}
