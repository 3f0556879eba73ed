package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gw2link/config"
	bboltstorage "github.com/jmcleod/gw2link/storage/bbolt"
	"github.com/jmcleod/gw2link/storage/memory"
	redisstorage "github.com/jmcleod/gw2link/storage/redis"
)

func TestOpenCache(t *testing.T) {
	ctx := t.Context()

	c, err := openCache(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Cache{}, c)

	path := filepath.Join(t.TempDir(), "nested", "gw2link.db")
	c, err = openCache(ctx, config.StorageConfig{Backend: "bbolt", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &bboltstorage.Store{}, c)
	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	require.NoError(t, c.Close())
	assert.FileExists(t, path)

	mr := miniredis.RunT(t)
	c, err = openCache(ctx, config.StorageConfig{
		Backend: "redis",
		Redis:   config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
	})
	require.NoError(t, err)
	assert.IsType(t, &redisstorage.Store{}, c)
	require.NoError(t, c.Close())

	_, err = openCache(ctx, config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}

func TestNewDiscoverer(t *testing.T) {
	assert.NotNil(t, newDiscoverer(config.GameConfig{}, nil))

	d := newDiscoverer(config.GameConfig{MacAppDir: t.TempDir()}, nil)
	insts, err := d.Discover(t.Context())
	require.NoError(t, err)
	assert.Empty(t, insts)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gw2link "+Version+"\n", out)
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/v2/account" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer GOOD-KEY" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"text": "Invalid access token"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "acct-1",
			"name":   "Tester.1234",
			"age":    7200,
			"access": []string{"GuildWars2", "PathOfFire"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthorizeCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := fakeAPI(t)
	t.Setenv("GW2LINK_API_BASE_URL", srv.URL)
	t.Setenv("GW2LINK_STORAGE_BACKEND", "memory")
	t.Setenv("GW2LINK_LOG_LEVEL", "error")

	out, err := execute(t, "authorize", "GOOD-KEY")
	require.NoError(t, err)
	assert.Contains(t, out, "Account:  Tester.1234 (acct-1)")
	assert.Contains(t, out, "Age:      2h0m0s")
	assert.Contains(t, out, "License:  single_purchase")
	assert.Contains(t, out, "DLC:      Path of Fire")

	_, err = execute(t, "authorize", "BAD-KEY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed_invalid_token")
}

func TestAchievementsCommand_RequiresKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GW2LINK_STORAGE_BACKEND", "memory")
	t.Setenv("GW2LINK_API_KEY", "")
	t.Setenv("GW2LINK_LOG_LEVEL", "error")

	_, err := execute(t, "achievements")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GW2LINK_API_KEY")
}
