// Package config loads service settings from YAML, a .env file and BONES_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
)

const envPrefix = "BONES_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Quota    QuotaConfig    `yaml:"quota"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	TLSDomain       string        `yaml:"tls_domain"`
	AdminKey        string        `yaml:"admin_key"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres or mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig moves anonymous quotas to Redis when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AuthConfig struct {
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

type LedgerConfig struct {
	StartingBones int64         `yaml:"starting_bones"`
	ShareReward   int64         `yaml:"share_reward"`
	RewardWindow  time.Duration `yaml:"reward_window"`
}

type QuotaConfig struct {
	MaxGenerations int           `yaml:"max_generations"`
	Window         time.Duration `yaml:"window"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type ThrottleConfig struct {
	PerMinute     int           `yaml:"per_minute"`
	Burst         int           `yaml:"burst"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			PublicBaseURL:   "http://localhost:3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		Redis: RedisConfig{Prefix: "bones:"},
		Ledger: LedgerConfig{
			StartingBones: 5,
			ShareReward:   1,
			RewardWindow:  24 * time.Hour,
		},
		Quota: QuotaConfig{
			MaxGenerations: 2,
			Window:         24 * time.Hour,
			SweepInterval:  time.Hour,
		},
		Throttle: ThrottleConfig{
			PerMinute:     5,
			Burst:         5,
			SweepInterval: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given files when they exist. Variables already set in
// the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: stat %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Server.Addr)
	str("TLS_DOMAIN", &c.Server.TLSDomain)
	str("ADMIN_KEY", &c.Server.AdminKey)
	str("PUBLIC_BASE_URL", &c.Server.PublicBaseURL)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("JWKS_URL", &c.Auth.JWKSURL)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("JWT_AUDIENCE", &c.Auth.Audience)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup(envPrefix + "TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v, ok := lookup(envPrefix + "DEV"); ok {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sDEV: %w", envPrefix, err)
		}
		c.Log.Development = dev
	}
	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sREDIS_DB: %w", envPrefix, err)
		}
		c.Redis.DB = db
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Ledger.StartingBones < 0 {
		return errors.New("config: ledger.starting_bones must not be negative")
	}
	if c.Ledger.ShareReward < 1 {
		return errors.New("config: ledger.share_reward must be at least 1")
	}
	if c.Ledger.RewardWindow <= 0 {
		return errors.New("config: ledger.reward_window must be positive")
	}
	if c.Quota.MaxGenerations < 0 {
		return errors.New("config: quota.max_generations must not be negative")
	}
	if c.Quota.Window <= 0 || c.Quota.SweepInterval <= 0 {
		return errors.New("config: quota.window and quota.sweep_interval must be positive")
	}
	if c.Throttle.PerMinute < 1 || c.Throttle.Burst < 1 {
		return errors.New("config: throttle.per_minute and throttle.burst must be at least 1")
	}
	if c.Throttle.SweepInterval <= 0 {
		return errors.New("config: throttle.sweep_interval must be positive")
	}
	if _, err := auth.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("config: server.trusted_proxies: %w", err)
	}
	if !strings.HasPrefix(c.Server.PublicBaseURL, "http://") && !strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		return fmt.Errorf("config: server.public_base_url %q must be an http(s) URL", c.Server.PublicBaseURL)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}
