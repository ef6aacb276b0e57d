package userstore

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/isometry/ldap-userstore-agent/internal/ldap"
)

const (
	// DNCacheCapacity bounds the number of cached usernames.
	DNCacheCapacity = 10000
	// DNCacheTTL is measured from the last access of an entry.
	DNCacheTTL = 30 * time.Minute
)

// ResolvedIdentity pairs a username with the DN it resolved to.
type ResolvedIdentity struct {
	Username string
	DN       *ldap.DN
}

type dnCacheEntry struct {
	identity   ResolvedIdentity
	lastAccess time.Time
}

// DNCache maps usernames to resolved DNs. Entries expire a fixed time after
// their last access and the least recently used entry is evicted when the
// cache is full. Disable is irreversible: a disabled cache reports every
// lookup as a miss and ignores writes.
type DNCache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *dnCacheEntry]
	ttl      time.Duration
	now      func() time.Time
	disabled bool
}

// NewDNCache returns a cache with the standard capacity and expiry.
func NewDNCache() *DNCache {
	return newDNCache(DNCacheCapacity, DNCacheTTL, time.Now)
}

func newDNCache(capacity int, ttl time.Duration, now func() time.Time) *DNCache {
	entries, err := lru.New[string, *dnCacheEntry](capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &DNCache{entries: entries, ttl: ttl, now: now}
}

// Get returns the identity cached for username. An expired entry is
// removed and reported as absent.
func (c *DNCache) Get(username string) (ResolvedIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return ResolvedIdentity{}, false
	}

	entry, ok := c.entries.Get(username)
	if !ok {
		return ResolvedIdentity{}, false
	}

	now := c.now()
	if now.Sub(entry.lastAccess) >= c.ttl {
		c.entries.Remove(username)
		return ResolvedIdentity{}, false
	}

	entry.lastAccess = now
	return entry.identity, true
}

// Put caches identity under username, replacing any previous entry.
func (c *DNCache) Put(username string, identity ResolvedIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled || identity.DN == nil {
		return
	}

	c.entries.Remove(username)
	c.entries.Add(username, &dnCacheEntry{identity: identity, lastAccess: c.now()})
}

// Invalidate removes the entry for username.
func (c *DNCache) Invalidate(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return
	}
	c.entries.Remove(username)
}

// Disable empties the cache and turns it off for the rest of its lifetime.
func (c *DNCache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disabled = true
	c.entries.Purge()
}

// Disabled reports whether Disable has been called.
func (c *DNCache) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Len returns the number of cached entries, including expired entries not
// yet looked up.
func (c *DNCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
