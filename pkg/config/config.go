// Package config loads gridsession configuration from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/persistence/middleware"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding configuration keys,
// e.g. GRIDSESSION_REDIS_ADDRESS.
const EnvPrefix = "GRIDSESSION"

// Config is the configuration of the gridsession server and CLI.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// LoggingConfig controls the slog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// RedisConfig points at the Redis server holding the sessions.
type RedisConfig struct {
	Address  string `mapstructure:"address" validate:"required,hostname_port" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" validate:"gte=0" yaml:"db"`

	// MapName namespaces every key of the session store.
	MapName string `mapstructure:"map_name" validate:"required" yaml:"map_name"`

	// SweepGrace keeps expired sessions readable until the sweeper publishes them.
	SweepGrace time.Duration `mapstructure:"sweep_grace" validate:"gte=0" yaml:"sweep_grace"`
	SweepBatch int           `mapstructure:"sweep_batch" validate:"gt=0" yaml:"sweep_batch"`
}

// SessionConfig configures the repository.
type SessionConfig struct {
	// Store selects the backend: "redis", or "memory" for a single process.
	Store string `mapstructure:"store" validate:"required,oneof=redis memory" yaml:"store"`

	// MaxInactiveInterval is the timeout of new sessions; negative never expires.
	MaxInactiveInterval time.Duration            `mapstructure:"max_inactive_interval" yaml:"max_inactive_interval"`
	FlushMode           domain.FlushMode         `mapstructure:"flush_mode" yaml:"flush_mode"`
	SaveMode            domain.SaveMode          `mapstructure:"save_mode" yaml:"save_mode"`
	ServerSideUpdates   session.ServerSideUpdates `mapstructure:"server_side_updates" yaml:"server_side_updates"`

	// DistributedLock guards fallback updates across replicas.
	DistributedLock bool          `mapstructure:"distributed_lock" yaml:"distributed_lock"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" validate:"gt=0" yaml:"lock_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gte=0" yaml:"sweep_interval"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Address string `mapstructure:"address" validate:"required" yaml:"address"`

	// Transport carries the session ID: "cookie" or "header".
	Transport    string `mapstructure:"transport" validate:"required,oneof=cookie header" yaml:"transport"`
	CookieName   string `mapstructure:"cookie_name" validate:"required" yaml:"cookie_name"`
	CookieSecure bool   `mapstructure:"cookie_secure" yaml:"cookie_secure"`
	HeaderName   string `mapstructure:"header_name" validate:"required" yaml:"header_name"`

	AdminPrefix string `mapstructure:"admin_prefix" validate:"required,startswith=/" yaml:"admin_prefix"`
	MetricsPath string `mapstructure:"metrics_path" validate:"required,startswith=/" yaml:"metrics_path"`
}

// EncryptionConfig enables attribute encryption when ActiveKey is set.
// Keys are 32 bytes, hex or base64 encoded.
type EncryptionConfig struct {
	ActiveKey    string   `mapstructure:"active_key" yaml:"active_key,omitempty"`
	FallbackKeys []string `mapstructure:"fallback_keys" yaml:"fallback_keys,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GRIDSESSION_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Encryption.ActiveKey == "" && len(cfg.Encryption.FallbackKeys) > 0 {
		return fmt.Errorf("encryption fallback keys require an active key")
	}
	_, err := cfg.Encryption.Keys()
	return err
}

// Keys decodes the configured keys. It returns nil when encryption is disabled.
func (e EncryptionConfig) Keys() (*middleware.EncryptionConfig, error) {
	if e.ActiveKey == "" {
		return nil, nil
	}
	active, err := middleware.ParseKey(e.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("encryption active key: %w", err)
	}
	keys := &middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range e.FallbackKeys {
		fallback, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("encryption fallback key %d: %w", i, err)
		}
		keys.FallbackKeys = append(keys.FallbackKeys, fallback)
	}
	return keys, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may hold the Redis password and encryption keys.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the GRIDSESSION_ prefix and underscores
	// Example: GRIDSESSION_REDIS_ADDRESS=redis:6379
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper knows about.
	setDefaults(v, GetDefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/gridsession/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// Modes decode through their UnmarshalText methods.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gridsession")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gridsession")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
