// Package config loads gw2link settings from a YAML file, a .env file and
// GW2LINK_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/gw2link/internal/apperr"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GW2LINK_"

type Config struct {
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Game      GameConfig      `yaml:"game"`
	Intervals IntervalsConfig `yaml:"intervals"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Key          string        `yaml:"key"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	VerifyTLS    bool          `yaml:"verify_tls"`
	MaxRedirects int           `yaml:"max_redirects"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Delay      time.Duration `yaml:"delay"`
	Multiplier float64       `yaml:"multiplier"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	// Backend is one of memory, bbolt, redis or postgres.
	Backend  string         `yaml:"backend"`
	Path     string         `yaml:"path"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// GameConfig overrides where installations are looked for. Empty values use
// the platform defaults.
type GameConfig struct {
	MacAppDir        string `yaml:"mac_app_dir"`
	WindowsConfigDir string `yaml:"windows_config_dir"`
}

type IntervalsConfig struct {
	Achievements time.Duration `yaml:"achievements"`
	Discovery    time.Duration `yaml:"discovery"`
	Presence     time.Duration `yaml:"presence"`
	ScanThrottle time.Duration `yaml:"scan_throttle"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			BaseURL:      "https://api.guildwars2.com",
			UserAgent:    "gw2link/1.0.0",
			Timeout:      30 * time.Second,
			VerifyTLS:    true,
			MaxRedirects: 10,
			Retry:        RetryConfig{Attempts: 5},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 13338,
		},
		Storage: StorageConfig{
			Backend: "bbolt",
			Path:    "./data/gw2link.db",
			Redis:   RedisConfig{Prefix: "gw2link:"},
		},
		Intervals: IntervalsConfig{
			Achievements: 1500 * time.Second,
			Discovery:    60 * time.Second,
			Presence:     5 * time.Second,
		},
	}
}

// Load builds the configuration. A missing .env is ignored; a missing YAML
// file is an error only when path is set explicitly.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "reading .env", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "reading config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "parsing "+path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("API_BASE_URL", &c.API.BaseURL)
	str("API_KEY", &c.API.Key)
	str("API_USER_AGENT", &c.API.UserAgent)
	dur("API_TIMEOUT", &c.API.Timeout)
	flag("API_VERIFY_TLS", &c.API.VerifyTLS)
	num("API_RETRY_ATTEMPTS", &c.API.Retry.Attempts)
	dur("API_RETRY_DELAY", &c.API.Retry.Delay)
	str("SERVER_HOST", &c.Server.Host)
	num("SERVER_PORT", &c.Server.Port)
	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("STORAGE_PATH", &c.Storage.Path)
	str("REDIS_ADDR", &c.Storage.Redis.Addr)
	str("REDIS_USERNAME", &c.Storage.Redis.Username)
	str("REDIS_PASSWORD", &c.Storage.Redis.Password)
	num("REDIS_DB", &c.Storage.Redis.DB)
	str("POSTGRES_DSN", &c.Storage.Postgres.DSN)
	str("GAME_MAC_APP_DIR", &c.Game.MacAppDir)
	str("GAME_WINDOWS_CONFIG_DIR", &c.Game.WindowsConfigDir)

	if len(errs) > 0 {
		return apperr.Wrap(apperr.KindConfig, "config.applyEnv", "invalid environment override", errors.Join(errs...))
	}
	return nil
}

// Validate rejects configurations that cannot be started.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.Retry.Attempts < 1 {
		errs = append(errs, errors.New("api.retry.attempts must be at least 1"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "memory":
	case "bbolt":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the bbolt backend"))
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	for name, d := range map[string]time.Duration{
		"intervals.achievements": c.Intervals.Achievements,
		"intervals.discovery":    c.Intervals.Discovery,
		"intervals.presence":     c.Intervals.Presence,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if len(errs) > 0 {
		return apperr.Wrap(apperr.KindConfig, "config.Validate", "invalid configuration", errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
