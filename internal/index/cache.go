package index

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Cache is a content-addressed LRU of built indexes. Concurrent requests for the same key share one build.
// The cache holds one reference to every entry and gives it up on eviction.
type Cache struct {
	entries *lru.Cache[string, *FolderIndex]
	group   singleflight.Group
}

func NewCache(size int) (*Cache, error) {
	entries, err := lru.NewWithEvict(size, func(key string, idx *FolderIndex) {
		log.Debug().Str("key", shortKey(key)).Msg("Evicted folder index")
		idx.Release()
	})
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// GetOrBuild returns the cached index for key or runs build. Failed builds are not cached.
// The second return value reports whether an existing index was reused instead of built by this call.
// The returned index carries a reference for the caller, who must Release it.
//
// build runs without the caller's cancellation since other callers may be waiting on it.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) (*FolderIndex, error)) (*FolderIndex, bool, error) {
	for {
		if idx, ok := c.entries.Get(key); ok && idx.tryAcquire() {
			return idx, true, nil
		}

		built := false
		ch := c.group.DoChan(key, func() (any, error) {
			if idx, ok := c.entries.Get(key); ok {
				return idx, nil
			}
			built = true
			idx, err := build(context.WithoutCancel(ctx))
			if err != nil {
				return nil, err
			}
			c.entries.Add(key, idx)
			return idx, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		idx := res.Val.(*FolderIndex)
		if idx.tryAcquire() {
			return idx, !built, nil
		}
		// evicted and dropped before this caller could take it
	}
}

// Get peeks at a cached index without taking a reference
func (c *Cache) Get(key string) (*FolderIndex, bool) { return c.entries.Peek(key) }

func (c *Cache) Len() int { return c.entries.Len() }

func (c *Cache) Purge() { c.entries.Purge() }
