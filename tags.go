package tagcache

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tagcache/internal/util"
)

// Invalidate expands each entity through the tag index and deletes every
// discovered key. All traversal failures are soft: a sub-path that cannot
// be read invalidates nothing under it, and whatever it missed expires via
// its own TTL later.
func (c *cache[V]) Invalidate(ctx context.Context, entities []EntityRef) {
	if !c.enabled || len(entities) == 0 {
		return
	}

	doomed := make(map[string]struct{})
	for _, e := range entities {
		if e.TypeName == "" {
			continue
		}
		if e.ID != "" {
			c.collectTag(ctx, c.entityTag(e.TypeName, e.ID), doomed)
			continue
		}

		c.collectTag(ctx, e.TypeName, doomed)

		// A type-level tag covers every known instance of the type.
		// Sibling instances of an instance-level invalidation are
		// deliberately NOT reached from here.
		instances, err := c.store.Scan(ctx, e.TypeName+tagSeparator+"*")
		if err != nil {
			c.hooks.InvalidateTraversalError(e.TypeName, err)
			c.log.Warn("instance tag scan failed; type fan-out incomplete", Fields{"type": e.TypeName, "err": err})
			continue
		}
		for _, tag := range instances {
			c.collectTag(ctx, tag, doomed)
		}
	}

	c.deleteKeys(ctx, doomed)
}

// collectTag folds one tag into the doomed set: the tag's own key, every
// cached key indexed under it, and each such key's operation tag set. The
// individual entity tags those operation sets reference stay behind for
// natural TTL or a later invalidation.
func (c *cache[V]) collectTag(ctx context.Context, tag string, doomed map[string]struct{}) {
	doomed[tag] = struct{}{}
	members, err := c.store.SMembers(ctx, tag)
	if err != nil {
		// soft: behave as if the tag had no dependents
		c.hooks.InvalidateTraversalError(tag, err)
		c.log.Warn("reverse index read failed; skipping dependents", Fields{"tag": tag, "err": err})
		return
	}
	for _, key := range members {
		doomed[key] = struct{}{}
		doomed[c.operationTag(key)] = struct{}{}
	}
}

// deleteKeys flushes the doomed set in chunks of invalidateN: chunks run
// sequentially, deletes within a chunk run in parallel, so at most
// invalidateN deletes are in flight at any instant.
func (c *cache[V]) deleteKeys(ctx context.Context, doomed map[string]struct{}) {
	if len(doomed) == 0 {
		return
	}
	keys := make([]string, 0, len(doomed))
	for k := range doomed {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic chunking

	chunks := util.Chunk(keys, c.invalidateN)
	for _, chunk := range chunks {
		g, gctx := errgroup.WithContext(ctx)
		for _, key := range chunk {
			key := key
			g.Go(func() error {
				if err := c.store.Del(gctx, key); err != nil {
					c.hooks.InvalidateDeleteError(key, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	c.log.Debug("invalidation flushed", Fields{"keys": len(keys), "chunks": len(chunks)})
}
