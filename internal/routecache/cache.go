package routecache

import (
	"context"
	"sync"
	"time"
)

// Defaults for the cache tunables.
const (
	DefaultTTL           = 10 * time.Minute
	DefaultMaxEntries    = 5000
	DefaultSweepInterval = time.Minute
)

// Route remembers where one in-flight message came from, so an
// acknowledgement can still reach the sender when the registry is
// momentarily stale. Entries are advisory: losing one degrades ack delivery
// to a best-effort miss, never correctness of the message path.
type Route struct {
	MessageID   string
	SenderID    string
	SenderConn  string
	RecipientID string
	CreatedAt   time.Time
}

// Cache is a TTL-bounded map of in-flight message routes.
type Cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	max    int
	routes map[string]Route
}

// NewCache creates a cache that expires entries after ttl and trims itself
// once it grows past maxEntries.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		ttl:    ttl,
		max:    maxEntries,
		routes: make(map[string]Route),
	}
}

// Remember inserts or overwrites the route for messageID. When the cache has
// grown past its size threshold, expired entries are evicted first.
func (c *Cache) Remember(messageID, senderID, senderConn, recipientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.routes[messageID] = Route{
		MessageID:   messageID,
		SenderID:    senderID,
		SenderConn:  senderConn,
		RecipientID: recipientID,
		CreatedAt:   time.Now(),
	}

	if len(c.routes) > c.max {
		c.evictExpiredLocked(time.Now())
	}
}

// ResolveSenderHandle returns the recorded sender connection handle for
// messageID. Entries past the TTL are never returned, even between sweeps.
func (c *Cache) ResolveSenderHandle(messageID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route, ok := c.routes[messageID]
	if !ok {
		return "", false
	}
	if time.Since(route.CreatedAt) >= c.ttl {
		delete(c.routes, messageID)
		return "", false
	}
	return route.SenderConn, true
}

// Sweep removes expired entries.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(time.Now())
}

// StartSweeper runs Sweep every interval until ctx is cancelled. The sweep
// holds the lock only briefly and never sits on the delivery path.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of cached routes, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.routes)
}

func (c *Cache) evictExpiredLocked(now time.Time) {
	for id, route := range c.routes {
		if now.Sub(route.CreatedAt) >= c.ttl {
			delete(c.routes, id)
		}
	}
}
