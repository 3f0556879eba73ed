// Package storage defines the persistent key-value cache the plugin keeps
// between runs: when the game was last played and when each achievement was
// first seen unlocked.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("key not found")

// Well-known keys.
const (
	KeyLastPlayed        = "last_played"
	AchievementKeyPrefix = "achievement_"
)

// Cache is a flat string-keyed byte store. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists the keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// AchievementKey is the key holding the first-unlock time of achievement id.
func AchievementKey(id int) string {
	return AchievementKeyPrefix + strconv.Itoa(id)
}

// GetTime reads a timestamp stored by PutTime.
func GetTime(ctx context.Context, c Cache, key string) (time.Time, error) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: malformed timestamp %q: %w", key, raw, err)
	}
	return time.Unix(secs, 0), nil
}

// PutTime stores t as Unix seconds.
func PutTime(ctx context.Context, c Cache, key string, t time.Time) error {
	return c.Put(ctx, key, []byte(strconv.FormatInt(t.Unix(), 10)))
}

// PutTimeIfAbsent stores t only when key is unset and returns the time that is
// stored afterwards.
func PutTimeIfAbsent(ctx context.Context, c Cache, key string, t time.Time) (time.Time, error) {
	existing, err := GetTime(ctx, c, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return time.Time{}, err
	}
	if err := PutTime(ctx, c, key, t); err != nil {
		return time.Time{}, err
	}
	return time.Unix(t.Unix(), 0), nil
}
