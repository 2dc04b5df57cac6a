package fetch

import (
	"context"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/metaportal/internal/config"
	"github.com/zjrosen/metaportal/internal/log"
)

// Cached memoizes a Fetcher per chain for the lifetime of the process. A
// run asks for the same chain from several phases (update then collect);
// only the first call goes to the network. Errors are not cached.
type Cached struct {
	next  Fetcher
	cache *gocache.Cache
}

// NewCached wraps next.
func NewCached(next Fetcher) *Cached {
	return &Cached{
		next:  next,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

var _ Fetcher = (*Cached)(nil)

// FetchSpecs implements Fetcher.
func (c *Cached) FetchSpecs(ctx context.Context, chain config.Chain) (ChainSpecs, error) {
	return cached(c, "specs:"+chain.Name, func() (ChainSpecs, error) {
		return c.next.FetchSpecs(ctx, chain)
	})
}

// FetchMetadata implements Fetcher.
func (c *Cached) FetchMetadata(ctx context.Context, chain config.Chain) (Metadata, error) {
	return cached(c, "metadata:"+chain.Name, func() (Metadata, error) {
		return c.next.FetchMetadata(ctx, chain)
	})
}

func cached[T any](c *Cached, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			log.Debug(log.CatFetch, "cache hit", "key", key)
			return typed, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.cache.Set(key, v, gocache.NoExpiration)
	return v, nil
}
