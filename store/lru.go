package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"tax-rpc/taxengine"
)

// DefaultCacheTTL is how long a cached profile or rate stays valid.
const DefaultCacheTTL = 30 * time.Minute

type cacheEntry struct {
	value   any
	expires time.Time
}

// LRUCache is the ProfileCache of a single server: bounded in size, with a
// fixed time to live per entry. Expired entries are dropped when read.
type LRUCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru cache")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func (c *LRUCache) get(key string) (any, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *LRUCache) set(key string, value any) {
	c.entries.Add(key, cacheEntry{value: value, expires: c.now().Add(c.ttl)})
}

// Values are stored by copy so callers cannot mutate cached entries.

func (c *LRUCache) GetProfile(ctx context.Context, clientID string) (*taxengine.Profile, error) {
	v, ok := c.get(profilePrefix + clientID)
	if !ok {
		return nil, nil
	}
	p := v.(taxengine.Profile)
	return &p, nil
}

func (c *LRUCache) SetProfile(ctx context.Context, p *taxengine.Profile) error {
	c.set(profilePrefix+p.ClientID, *p)
	return nil
}

func (c *LRUCache) GetIvaRate(ctx context.Context, jurisdiction string) (*taxengine.IvaRate, error) {
	v, ok := c.get(ratePrefix + jurisdiction)
	if !ok {
		return nil, nil
	}
	r := v.(taxengine.IvaRate)
	return &r, nil
}

func (c *LRUCache) SetIvaRate(ctx context.Context, r *taxengine.IvaRate) error {
	c.set(ratePrefix+r.Jurisdiction, *r)
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *LRUCache) Len() int { return c.entries.Len() }
