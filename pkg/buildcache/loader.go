package buildcache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// loaderGroup coalesces concurrent GetOrCompute calls for the same key.
// This cache only ever loads a ([]byte, map[string]any) pair, so one
// concrete group covers every caller.
type loaderGroup struct {
	sf singleflight.Group
}

// Loader produces the payload and metadata for a cache miss on key.
type Loader func(ctx context.Context) (data []byte, metadata map[string]any, err error)

// GetOrCompute returns key's cached entry if present; otherwise it calls
// load exactly once even under concurrent callers for the same key
// (coalesced via singleflight), publishes the result with Put, and returns
// it. A load error is returned to every waiter and nothing is published.
func (c *Cache) GetOrCompute(ctx context.Context, key CacheKey, load Loader) (data []byte, metadata map[string]any, err error) {
	if data, metadata, found, err := c.Get(ctx, key); err != nil {
		return nil, nil, err
	} else if found {
		return data, metadata, nil
	}

	type result struct {
		data     []byte
		metadata map[string]any
	}

	v, err, _ := c.group.sf.Do(key.String(), func() (any, error) {
		data, metadata, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, data, metadata); err != nil {
			return nil, err
		}
		return result{data: data, metadata: metadata}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	r := v.(result)
	return r.data, r.metadata, nil
}
