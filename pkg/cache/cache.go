// Package cache is the shared read-mostly layer in front of the graph
// accessor. Entries are msgpack snapshots, so every reader decodes its own
// copy and may mutate it freely.
package cache

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/dd0wney/cluso-reliability/pkg/logging"
	"github.com/dd0wney/cluso-reliability/pkg/metrics"
)

// Entry kinds, used as key namespaces and metric labels.
const (
	KindNode  = "node"
	KindLayer = "layer"
)

// NodeKey is the key of a single node snapshot.
func NodeKey(semantic string) string { return KindNode + "/" + semantic }

// LayerKey is the key of a node's ordered children.
func LayerKey(semantic string) string { return KindLayer + "/" + semantic }

// Cache de-duplicates concurrent misses and records hit rates.
type Cache struct {
	backend Backend
	flight  singleflight.Group
	metrics *metrics.Registry
	logger  logging.Logger
}

// New wraps a backend. reg and logger may be nil.
func New(backend Backend, reg *metrics.Registry, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		backend: backend,
		metrics: reg,
		logger:  logger.With(logging.Component("cache"), logging.String("backend", backend.Name())),
	}
}

func (c *Cache) lookup(kind string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(kind, hit)
	}
}

// GetOrPopulate returns the entry under key, calling populate on a miss and
// storing its result. Backend failures degrade to a miss. Errors from
// populate are returned as is and never cached.
func GetOrPopulate[T any](ctx context.Context, c *Cache, kind, key string, populate func(context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", logging.String("key", key), logging.Error(err))
	}
	if ok {
		var v T
		if err := msgpack.Unmarshal(data, &v); err == nil {
			c.lookup(kind, true)
			return v, nil
		}
		c.logger.Warn("cache entry undecodable", logging.String("key", key))
	}
	c.lookup(kind, false)

	shared, err, _ := c.flight.Do(key, func() (any, error) {
		v, err := populate(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry %s: %w", key, err)
		}
		if err := c.backend.Set(ctx, key, encoded); err != nil {
			c.logger.Warn("cache write failed", logging.String("key", key), logging.Error(err))
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := msgpack.Unmarshal(shared.([]byte), &v); err != nil {
		return zero, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return v, nil
}

// Invalidate drops keys. Failures are logged and counted, never returned:
// a stale entry is only ever served until the next successful invalidation.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	for _, k := range keys {
		c.flight.Forget(k)
	}
	n, err := c.backend.Delete(ctx, keys...)
	if c.metrics != nil {
		c.metrics.RecordInvalidation(c.backend.Name(), n, err)
	}
	if err != nil {
		c.logger.Warn("cache invalidation failed", logging.Count(len(keys)), logging.Error(err))
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
