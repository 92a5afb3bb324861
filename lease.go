package tagcache

import (
	"context"

	lk "github.com/unkn0wn-root/tagcache/lock"
)

// storeLease records a first-responder lease. Overwriting an existing
// entry releases the older lease first so it cannot leak until expiry.
func (c *cache[V]) storeLease(key string, l lk.Lease) {
	c.leaseMu.Lock()
	old, had := c.leases[key]
	c.leases[key] = l
	c.leaseMu.Unlock()
	if had {
		if err := old.Release(context.Background()); err != nil {
			c.hooks.LockReleaseError(key, err)
		}
	}
}

// releaseLease releases and clears a locally held lease for key.
// No-op when none is held.
func (c *cache[V]) releaseLease(ctx context.Context, key string) {
	c.leaseMu.Lock()
	l, ok := c.leases[key]
	if ok {
		delete(c.leases, key)
	}
	c.leaseMu.Unlock()
	if !ok {
		return
	}
	if err := l.Release(ctx); err != nil {
		c.hooks.LockReleaseError(key, err)
		c.log.Warn("lease release failed; will expire on its own", Fields{"key": key, "err": err})
	}
}
