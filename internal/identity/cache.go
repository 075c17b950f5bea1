package identity

import (
	"sync"
)

// Cache is an explicit, caller-owned registry of live identities keyed
// by domain and username. Callers that want identity reuse across
// operations create one and pass it around; nothing in this package
// holds global state.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Identity
}

type cacheKey struct {
	domain   string
	username string
}

// NewCache creates an empty identity cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Identity)}
}

// Get returns the cached identity for the domain and username, or nil.
func (c *Cache) Get(domain, username string) *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cacheKey{domain, username}]
}

// Put stores an identity, replacing and closing any previous entry for
// the same key.
func (c *Cache) Put(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{id.Domain(), id.Username()}
	if prev, ok := c.entries[key]; ok && prev != id {
		prev.Close()
	}
	c.entries[key] = id
}

// Remove drops and closes the identity for the domain and username.
func (c *Cache) Remove(domain, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{domain, username}
	if id, ok := c.entries[key]; ok {
		id.Close()
		delete(c.entries, key)
	}
}

// Len returns the number of cached identities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes every cached identity and empties the cache.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, id := range c.entries {
		id.Close()
		delete(c.entries, key)
	}
}
