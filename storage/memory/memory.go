// Package memory provides a thread-safe in-memory implementation of storage.Cache.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/jmcleod/gw2link/storage"
)

// Cache is a thread-safe in-memory storage.Cache. Nothing survives the
// process; use it for tests and one-shot CLI runs.
type Cache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Cache = (*Cache)(nil)

// New creates an empty Cache.
func New() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (c *Cache) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(c.data, key)
	return nil
}

func (c *Cache) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close is a no-op.
func (c *Cache) Close() error {
	return nil
}
