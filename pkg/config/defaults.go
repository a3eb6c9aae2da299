package config

import (
	"strings"

	"github.com/aretw0/gridsession/pkg/adapters/redis"
	sessionhttp "github.com/aretw0/gridsession/pkg/adapters/http"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/spf13/viper"
)

// GetDefaultConfig returns the configuration used when nothing is set.
func GetDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Redis: RedisConfig{
			Address:    "localhost:6379",
			MapName:    domain.DefaultMapName,
			SweepGrace: redis.DefaultSweepGrace,
			SweepBatch: redis.DefaultSweepBatch,
		},
		Session: SessionConfig{
			Store:               "redis",
			MaxInactiveInterval: domain.DefaultMaxInactiveInterval,
			FlushMode:           domain.FlushOnSave,
			SaveMode:            domain.SaveOnSetAttribute,
			ServerSideUpdates:   session.ServerSideAuto,
			DistributedLock:     true,
			LockTTL:             session.DefaultLockTTL,
			SweepInterval:       session.DefaultSweepInterval,
		},
		HTTP: HTTPConfig{
			Address:     ":8080",
			Transport:   "cookie",
			CookieName:  sessionhttp.DefaultCookieName,
			HeaderName:  sessionhttp.DefaultHeaderName,
			AdminPrefix: "/admin",
			MetricsPath: "/metrics",
		},
	}
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values ("", 0) are replaced with defaults
//   - Explicit values are preserved
//
// Zero durations are explicit settings: a zero sweep interval disables sweeping.
func ApplyDefaults(cfg *Config) {
	def := GetDefaultConfig()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = def.Redis.Address
	}
	if cfg.Redis.MapName == "" {
		cfg.Redis.MapName = def.Redis.MapName
	}
	if cfg.Redis.SweepBatch == 0 {
		cfg.Redis.SweepBatch = def.Redis.SweepBatch
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = def.Session.Store
	}
	cfg.Session.Store = strings.ToLower(cfg.Session.Store)
	if cfg.Session.LockTTL == 0 {
		cfg.Session.LockTTL = def.Session.LockTTL
	}

	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = def.HTTP.Address
	}
	if cfg.HTTP.Transport == "" {
		cfg.HTTP.Transport = def.HTTP.Transport
	}
	if cfg.HTTP.CookieName == "" {
		cfg.HTTP.CookieName = def.HTTP.CookieName
	}
	if cfg.HTTP.HeaderName == "" {
		cfg.HTTP.HeaderName = def.HTTP.HeaderName
	}
	if cfg.HTTP.AdminPrefix == "" {
		cfg.HTTP.AdminPrefix = def.HTTP.AdminPrefix
	}
	if cfg.HTTP.MetricsPath == "" {
		cfg.HTTP.MetricsPath = def.HTTP.MetricsPath
	}

	if len(cfg.Encryption.FallbackKeys) == 0 {
		cfg.Encryption.FallbackKeys = nil
	}
}

// setDefaults registers every key with viper so environment variables apply
// even without a config file.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetDefault("redis.address", def.Redis.Address)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.map_name", def.Redis.MapName)
	v.SetDefault("redis.sweep_grace", def.Redis.SweepGrace.String())
	v.SetDefault("redis.sweep_batch", def.Redis.SweepBatch)

	v.SetDefault("session.store", def.Session.Store)
	v.SetDefault("session.max_inactive_interval", def.Session.MaxInactiveInterval.String())
	v.SetDefault("session.flush_mode", def.Session.FlushMode.String())
	v.SetDefault("session.save_mode", def.Session.SaveMode.String())
	v.SetDefault("session.server_side_updates", def.Session.ServerSideUpdates.String())
	v.SetDefault("session.distributed_lock", def.Session.DistributedLock)
	v.SetDefault("session.lock_ttl", def.Session.LockTTL.String())
	v.SetDefault("session.sweep_interval", def.Session.SweepInterval.String())

	v.SetDefault("http.address", def.HTTP.Address)
	v.SetDefault("http.transport", def.HTTP.Transport)
	v.SetDefault("http.cookie_name", def.HTTP.CookieName)
	v.SetDefault("http.cookie_secure", def.HTTP.CookieSecure)
	v.SetDefault("http.header_name", def.HTTP.HeaderName)
	v.SetDefault("http.admin_prefix", def.HTTP.AdminPrefix)
	v.SetDefault("http.metrics_path", def.HTTP.MetricsPath)

	v.SetDefault("encryption.active_key", "")
	v.SetDefault("encryption.fallback_keys", []string{})
}
