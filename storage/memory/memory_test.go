package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gw2link/storage"
)

func TestMemoryCache(t *testing.T) {
	c := New()
	ctx := t.Context()

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "k1", []byte("v1")))
		got, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		// Stored values are isolated from caller mutation.
		got[0] = 'X'
		again, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), again)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := c.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Keys", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, storage.AchievementKey(1), []byte("1")))
		require.NoError(t, c.Put(ctx, storage.AchievementKey(2), []byte("2")))
		keys, err := c.Keys(ctx, storage.AchievementKeyPrefix)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"achievement_1", "achievement_2"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "k1"))
		assert.ErrorIs(t, c.Delete(ctx, "k1"), storage.ErrNotFound)
	})
}

func TestTimeHelpers(t *testing.T) {
	c := New()
	ctx := t.Context()
	at := time.Date(2026, 5, 4, 3, 2, 1, 500, time.UTC)

	_, err := storage.GetTime(ctx, c, storage.KeyLastPlayed)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, storage.PutTime(ctx, c, storage.KeyLastPlayed, at))
	got, err := storage.GetTime(ctx, c, storage.KeyLastPlayed)
	require.NoError(t, err)
	assert.True(t, got.Equal(at.Truncate(time.Second)))

	raw, err := c.Get(ctx, storage.KeyLastPlayed)
	require.NoError(t, err)
	assert.Equal(t, "1777863721", string(raw))

	require.NoError(t, c.Put(ctx, "bad", []byte("yesterday")))
	_, err = storage.GetTime(ctx, c, "bad")
	assert.Error(t, err)
}

func TestPutTimeIfAbsent(t *testing.T) {
	c := New()
	ctx := t.Context()
	first := time.Unix(1000, 0)
	later := time.Unix(2000, 0)

	got, err := storage.PutTimeIfAbsent(ctx, c, storage.AchievementKey(7), first)
	require.NoError(t, err)
	assert.True(t, got.Equal(first))

	got, err = storage.PutTimeIfAbsent(ctx, c, storage.AchievementKey(7), later)
	require.NoError(t, err)
	assert.True(t, got.Equal(first))
}
