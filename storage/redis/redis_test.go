package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gw2link/storage"
)

func newTestStore(t *testing.T, prefix string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(t.Context(), Config{Addr: mr.Addr(), Prefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisCache(t *testing.T) {
	s, mr := newTestStore(t, "")
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Keys are namespaced on the server.
	raw, err := mr.Get("gw2link:k")
	require.NoError(t, err)
	assert.Equal(t, "v", raw)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.ErrorIs(t, s.Delete(ctx, "k"), storage.ErrNotFound)
}

func TestRedisCache_Keys(t *testing.T) {
	s, mr := newTestStore(t, "test:")
	ctx := t.Context()

	for _, id := range []int{1, 2, 3} {
		require.NoError(t, s.Put(ctx, storage.AchievementKey(id), []byte("1")))
	}
	require.NoError(t, s.Put(ctx, storage.KeyLastPlayed, []byte("1")))
	mr.Set("other:achievement_9", "1")

	keys, err := s.Keys(ctx, storage.AchievementKeyPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"achievement_1", "achievement_2", "achievement_3"}, keys)
}

func TestRedisCache_Time(t *testing.T) {
	s, _ := newTestStore(t, "")
	ctx := t.Context()
	at := time.Unix(1712345678, 0)

	require.NoError(t, storage.PutTime(ctx, s, storage.KeyLastPlayed, at))
	got, err := storage.GetTime(ctx, s, storage.KeyLastPlayed)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(t.Context(), Config{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = New(t.Context(), Config{Addr: addr})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}
