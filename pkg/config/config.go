// Package config loads service configuration from defaults, an optional
// YAML file and RBD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dd0wney/cluso-reliability/pkg/validation"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Cache backends.
const (
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config is the service configuration.
type Config struct {
	// MethodTimeout bounds every public service operation.
	MethodTimeout time.Duration `mapstructure:"method_timeout"`
	// MissionTime is the default timespan, in hours, used when a
	// recalculation query carries none.
	MissionTime float64 `mapstructure:"mission_time"`
	// AllowBesideInsideGroup permits insertRbdBeside on an anchor that sits
	// on a parallel path of a group.
	AllowBesideInsideGroup bool   `mapstructure:"allow_beside_inside_group"`
	LogLevel               string `mapstructure:"log_level"`

	Store StoreConfig `mapstructure:"store"`
	Cache CacheConfig `mapstructure:"cache"`
}

// StoreConfig selects the graph accessor implementation.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Size          int           `mapstructure:"size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		MethodTimeout: 30 * time.Second,
		MissionTime:   8760,
		LogLevel:      "info",
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Cache: CacheConfig{
			Backend:   CacheLRU,
			Size:      4096,
			TTL:       10 * time.Minute,
			KeyPrefix: "rbd:",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("method_timeout", d.MethodTimeout)
	v.SetDefault("mission_time", d.MissionTime)
	v.SetDefault("allow_beside_inside_group", d.AllowBesideInsideGroup)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.in_memory", d.Store.InMemory)
	v.SetDefault("store.sync_writes", d.Store.SyncWrites)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
}

// Load reads configuration. An empty path skips the file; a named file
// that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and reports all failures at once.
func (c *Config) Validate() error {
	cv := validation.NewConfigValidator("Config")
	cv.RangeDuration("MethodTimeout", c.MethodTimeout, time.Millisecond, time.Hour).
		PositiveFloat("MissionTime", c.MissionTime).
		OneOf("LogLevel", strings.ToLower(c.LogLevel), "debug", "info", "warn", "warning", "error").
		OneOf("Store.Backend", c.Store.Backend, StoreMemory, StoreBadger).
		When(c.Store.Backend == StoreBadger && !c.Store.InMemory, func(v *validation.ConfigValidator) {
			v.Required("Store.Path", c.Store.Path)
		}).
		OneOf("Cache.Backend", c.Cache.Backend, CacheLRU, CacheRedis).
		When(c.Cache.Backend == CacheLRU, func(v *validation.ConfigValidator) {
			v.Positive("Cache.Size", c.Cache.Size)
		}).
		When(c.Cache.Backend == CacheRedis, func(v *validation.ConfigValidator) {
			v.Required("Cache.RedisAddr", c.Cache.RedisAddr).
				NonNegative("Cache.RedisDB", c.Cache.RedisDB).
				NonNegativeDuration("Cache.TTL", c.Cache.TTL)
		})
	return cv.Validate()
}
