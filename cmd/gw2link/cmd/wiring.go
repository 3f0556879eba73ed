package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/jmcleod/gw2link/account"
	"github.com/jmcleod/gw2link/authserver"
	"github.com/jmcleod/gw2link/config"
	"github.com/jmcleod/gw2link/httpclient"
	"github.com/jmcleod/gw2link/localgame"
	"github.com/jmcleod/gw2link/plugin"
	"github.com/jmcleod/gw2link/presence"
	"github.com/jmcleod/gw2link/storage"
	bboltstorage "github.com/jmcleod/gw2link/storage/bbolt"
	"github.com/jmcleod/gw2link/storage/memory"
	pgstorage "github.com/jmcleod/gw2link/storage/postgres"
	redisstorage "github.com/jmcleod/gw2link/storage/redis"
)

// openCache opens the storage backend named by cfg.
func openCache(ctx context.Context, cfg config.StorageConfig) (storage.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "bbolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewFromFile(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redisstorage.New(ctx, redisstorage.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := pgstorage.NewFromDSN(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newAccount(cfg config.APIConfig, logger *slog.Logger) *account.Client {
	hc := httpclient.New(
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithTLSVerification(cfg.VerifyTLS),
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithMaxRedirects(cfg.MaxRedirects),
		httpclient.WithLogger(logger),
	)
	return account.New(hc,
		account.WithBaseURL(cfg.BaseURL),
		account.WithRetryPolicy(account.RetryPolicy{
			Attempts:   cfg.Retry.Attempts,
			Delay:      cfg.Retry.Delay,
			Multiplier: cfg.Retry.Multiplier,
		}),
		account.WithLogger(logger),
	)
}

// newDiscoverer honours the configured install locations and falls back to
// the platform default.
func newDiscoverer(cfg config.GameConfig, logger *slog.Logger) localgame.Discoverer {
	switch {
	case runtime.GOOS == "darwin" && cfg.MacAppDir != "":
		return &localgame.MacDiscoverer{AppDir: cfg.MacAppDir}
	case runtime.GOOS == "windows" && cfg.WindowsConfigDir != "":
		return &localgame.WindowsDiscoverer{ConfigDir: cfg.WindowsConfigDir, Logger: logger}
	default:
		return localgame.NewDiscoverer(logger)
	}
}

// app is everything a subcommand needs, opened from one configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cache   storage.Cache
	account *account.Client
	plugin  *plugin.Plugin
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cache, err := openCache(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	acct := newAccount(cfg.API, logger)
	p := plugin.New(acct,
		plugin.WithCache(cache),
		plugin.WithDiscoverer(newDiscoverer(cfg.Game, logger)),
		plugin.WithProcessLister(presence.SystemProcesses{Logger: logger}),
		plugin.WithIntervals(plugin.Intervals{
			Achievements: cfg.Intervals.Achievements,
			Discovery:    cfg.Intervals.Discovery,
			Presence:     cfg.Intervals.Presence,
		}),
		plugin.WithAuthServerOptions(authserver.WithAddress(cfg.Server.Host, cfg.Server.Port)),
		plugin.WithTrackerOptions(presence.WithScanThrottle(cfg.Intervals.ScanThrottle)),
		plugin.WithLogger(logger),
	)
	return &app{cfg: cfg, logger: logger, cache: cache, account: acct, plugin: p}, nil
}

// login authorizes the configured key.
func (a *app) login(ctx context.Context) (*plugin.Authentication, error) {
	if a.cfg.API.Key == "" {
		return nil, fmt.Errorf("no API key configured; set api.key or %sAPI_KEY", config.EnvPrefix)
	}
	auth, _, err := a.plugin.Authenticate(ctx, plugin.Credentials{plugin.CredentialAPIKey: a.cfg.API.Key})
	return auth, err
}

func (a *app) close(ctx context.Context) {
	if err := a.plugin.Shutdown(ctx); err != nil {
		a.logger.Warn("plugin shutdown", "error", err)
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache", "error", err)
	}
}
