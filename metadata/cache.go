package metadata

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"ytrelay/formats"
)

// Entry is what the preview endpoints need about a URL.
type Entry struct {
	Metadata   *Metadata
	Candidates []formats.Candidate
}

// Cache memoises preview entries per URL for a fixed TTL.
type Cache struct {
	entries *ttlcache.Cache[string, Entry]
}

// NewCache returns a cache whose entries expire after ttl. Call Start to
// run expiry in the background and Stop to end it.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: ttlcache.New(
			ttlcache.WithTTL[string, Entry](ttl),
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
	}
}

// Start deletes expired entries until Stop is called. It blocks.
func (c *Cache) Start() { c.entries.Start() }

func (c *Cache) Stop() { c.entries.Stop() }

func (c *Cache) Get(url string) (Entry, bool) {
	item := c.entries.Get(url)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

func (c *Cache) Set(url string, e Entry) {
	c.entries.Set(url, e, ttlcache.DefaultTTL)
}

// GetOrLoad returns the cached entry for url, calling load on a miss.
// Failed loads are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, url string, load func(context.Context) (Entry, error)) (Entry, error) {
	if e, ok := c.Get(url); ok {
		return e, nil
	}
	e, err := load(ctx)
	if err != nil {
		return Entry{}, err
	}
	c.Set(url, e)
	return e, nil
}

func (c *Cache) Len() int { return c.entries.Len() }
