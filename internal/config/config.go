// Package config loads taskq settings from a YAML file, TASKQ_* environment
// variables and command-line overrides, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TASKQ"

// Keys understood by Load and accepted as overrides.
const (
	KeyDatabase       = "database"
	KeyPrincipal      = "principal"
	KeyGroups         = "groups"
	KeyGroupCacheTTL  = "group_cache_ttl"
	KeyGroupCacheSize = "group_cache_size"
	KeyLogLevel       = "log_level"
	KeyFormat         = "format"
	KeyFilters        = "filters"
)

// Config is the resolved configuration.
type Config struct {
	// Database is the SQLite file holding tasks.
	Database string `mapstructure:"database"`

	// Principal is the user queries run as. Empty means anonymous.
	Principal string `mapstructure:"principal"`

	// Groups, when set, replace the principal's stored memberships.
	Groups []string `mapstructure:"groups"`

	// GroupCacheTTL bounds how long resolved memberships are reused. Zero
	// disables the cache.
	GroupCacheTTL  time.Duration `mapstructure:"group_cache_ttl"`
	GroupCacheSize int           `mapstructure:"group_cache_size"`

	LogLevel string `mapstructure:"log_level"`
	Format   string `mapstructure:"format"`

	// Filters is the default saved-filter file.
	Filters string `mapstructure:"filters"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabase, "taskq.db")
	v.SetDefault(KeyPrincipal, "")
	v.SetDefault(KeyGroups, []string{})
	v.SetDefault(KeyGroupCacheTTL, "1m")
	v.SetDefault(KeyGroupCacheSize, 1024)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyFormat, "text")
	v.SetDefault(KeyFilters, "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration. path may be empty, in which case only
// defaults, environment and overrides apply; a named file that does not
// exist is an error. Overrides are keyed by the Key constants and win over
// everything else.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decoderOption()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOptional is Load that treats a missing file as no file.
func LoadOptional(path string, overrides map[string]any) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path, overrides)
}

func decoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)
}

// Validate checks cfg for values no command can work with.
func Validate(cfg *Config) error {
	if cfg.Database == "" {
		return errors.New("database must be set")
	}
	if cfg.Format != "text" && cfg.Format != "json" {
		return fmt.Errorf("format %q must be text or json", cfg.Format)
	}
	if cfg.GroupCacheTTL < 0 {
		return fmt.Errorf("group_cache_ttl %s must not be negative", cfg.GroupCacheTTL)
	}
	if cfg.GroupCacheTTL > 0 && cfg.GroupCacheSize <= 0 {
		return fmt.Errorf("group_cache_size must be positive when the cache is on, got %d", cfg.GroupCacheSize)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
