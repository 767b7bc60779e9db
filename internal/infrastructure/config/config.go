package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"xoracle/internal/domain/model"
)

// 敏感配置可由环境变量覆盖
const (
	EnvJWTSecret     = "XORACLE_JWT_SECRET"
	EnvPostgresDSN   = "XORACLE_POSTGRES_DSN"
	EnvRedisPassword = "XORACLE_REDIS_PASSWORD"
)

type Config struct {
	App struct {
		Name string `toml:"name"`
		Env  string `toml:"env"`
	} `toml:"app"`

	Log struct {
		Level      string `toml:"level"` // debug|info|warn|error
		File       string `toml:"file"`  // empty disables file output
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`

	Ledger struct {
		HeartbeatSec    uint64 `toml:"heartbeat_sec"`
		PriceDecimals   int32  `toml:"price_decimals"`
		EventBuffer     int    `toml:"event_buffer"`      // queued events before new ones are dropped
		NotifyTimeoutMs int    `toml:"notify_timeout_ms"` // per event delivery
	} `toml:"ledger"`

	HTTP struct {
		Addr           string  `toml:"addr"`
		RateLimit      float64 `toml:"rate_limit"` // requests per second per client IP, 0 disables
		RateBurst      int     `toml:"rate_burst"`
		ReadTimeoutMs  int     `toml:"read_timeout_ms"`
		WriteTimeoutMs int     `toml:"write_timeout_ms"`
	} `toml:"http"`

	Auth struct {
		JWTSecret string   `toml:"jwt_secret"`
		Issuer    string   `toml:"issuer"`
		TokenTTL  int      `toml:"token_ttl_sec"`
		Keepers   []string `toml:"keepers"`
		Admins    []string `toml:"admins"`
	} `toml:"auth"`

	Upstream struct {
		Enabled    bool    `toml:"enabled"`
		URL        string  `toml:"url"`
		TimeoutMs  int     `toml:"timeout_ms"`
		RatePerSec float64 `toml:"rate_per_sec"`
	} `toml:"upstream"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Redis struct {
		Enabled      bool   `toml:"enabled"`
		Addr         string `toml:"addr"`
		Password     string `toml:"password"`
		DB           int    `toml:"db"`
		Prefix       string `toml:"prefix"`
		TTLSeconds   int    `toml:"ttl_seconds"`
		EventStream  string `toml:"event_stream"`
		EventChannel string `toml:"event_channel"`
	} `toml:"redis"`

	Monitor struct {
		Enabled  bool   `toml:"enabled"`
		Schedule string `toml:"schedule"`
		Console  bool   `toml:"console"` // print a status line on every check
	} `toml:"monitor"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return finish(md, &cfg)
}

// Parse 从字符串解析配置，主要用于测试
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, err
	}
	return finish(md, &cfg)
}

func finish(md toml.MetaData, cfg *Config) (*Config, error) {
	// heartbeat_sec = 0 是合法值，只有未设置时才使用默认
	if !md.IsDefined("ledger", "heartbeat_sec") {
		cfg.Ledger.HeartbeatSec = model.DefaultHeartbeatSec
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "xoracle"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if cfg.Ledger.PriceDecimals <= 0 {
		cfg.Ledger.PriceDecimals = model.DefaultPriceDecimals
	}
	if cfg.Ledger.EventBuffer <= 0 {
		cfg.Ledger.EventBuffer = 1024
	}
	if cfg.Ledger.NotifyTimeoutMs <= 0 {
		cfg.Ledger.NotifyTimeoutMs = 2000
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RateBurst <= 0 {
		cfg.HTTP.RateBurst = 20
	}
	if cfg.HTTP.ReadTimeoutMs <= 0 {
		cfg.HTTP.ReadTimeoutMs = 5000
	}
	if cfg.HTTP.WriteTimeoutMs <= 0 {
		cfg.HTTP.WriteTimeoutMs = 10000
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = cfg.App.Name
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 3600
	}
	if cfg.Upstream.TimeoutMs <= 0 {
		cfg.Upstream.TimeoutMs = 3000
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/xoracle.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = cfg.App.Name
	}
	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = "@every 30s"
	}
	cfg.Auth.Keepers = normalizeMembers(cfg.Auth.Keepers)
	cfg.Auth.Admins = normalizeMembers(cfg.Auth.Admins)
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q not supported", cfg.Log.Level)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is empty (set it or " + EnvJWTSecret + ")")
	}
	if len(cfg.Auth.Admins) == 0 {
		return errors.New("auth.admins is empty")
	}
	if cfg.Upstream.Enabled && strings.TrimSpace(cfg.Upstream.URL) == "" {
		return errors.New("upstream.url empty but enabled")
	}
	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	if cfg.SQLite.Enabled && cfg.Postgres.Enabled {
		return errors.New("sqlite and postgres cannot both be enabled")
	}
	if cfg.Ledger.PriceDecimals > 18 {
		return fmt.Errorf("ledger.price_decimals %d out of range", cfg.Ledger.PriceDecimals)
	}
	return nil
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Ledger.NotifyTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.HTTP.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.HTTP.WriteTimeoutMs) * time.Millisecond
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutMs) * time.Millisecond
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTL) * time.Second
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

func normalizeMembers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.TrimSpace(s)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
