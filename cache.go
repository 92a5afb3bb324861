package tagcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	cd "github.com/unkn0wn-root/tagcache/codec"
	lk "github.com/unkn0wn-root/tagcache/lock"
	st "github.com/unkn0wn-root/tagcache/store"
)

type cache[V any] struct {
	store  st.Store
	codec  cd.Codec[V]
	locker lk.Client
	log    Logger
	hooks  Hooks

	enabled bool
	debug   bool

	entityTag    EntityTagFunc
	operationTag OperationTagFunc

	lockOpts    lk.Options
	readTimeout time.Duration
	invalidateN int

	// flight collapses concurrent reads of one key into a single store
	// round trip. Per-instance so multiple engines in one process do not
	// share state.
	flight singleflight.Group

	// leases tracks fill leases this process holds as first responder.
	leaseMu sync.Mutex
	leases  map[string]lk.Lease
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tagcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tagcache: codec is required")
	}

	c := &cache[V]{
		store:   opts.Store,
		codec:   opts.Codec,
		locker:  opts.Locker,
		enabled: !opts.Disabled,
		debug:   opts.Debug,
		leases:  make(map[string]lk.Lease),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.readTimeout = opts.ReadTimeout
	c.invalidateN = coalesce(opts.InvalidateConcurrency, defaultInvalidateConcurrency)

	if opts.EntityTag != nil {
		c.entityTag = opts.EntityTag
	} else {
		c.entityTag = func(typeName, id string) string { return typeName + tagSeparator + id }
	}
	if opts.OperationTag != nil {
		c.operationTag = opts.OperationTag
	} else {
		c.operationTag = func(key string) string { return operationTagPrefix + key }
	}

	ttl := coalesce(opts.LockTTL, defaultLockTTL)
	delay := coalesce(opts.LockRetryDelay, defaultLockRetryDelay)
	retries := opts.LockRetryCount
	if retries == 0 {
		retries = int(2 * ttl / delay)
	}
	c.lockOpts = lk.Options{TTL: ttl, RetryDelay: delay, RetryCount: retries}

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	// abandon any leases still held; they fall back to their TTL
	c.leaseMu.Lock()
	leases := c.leases
	c.leases = make(map[string]lk.Lease)
	c.leaseMu.Unlock()
	for key, l := range leases {
		if err := l.Release(ctx); err != nil {
			c.hooks.LockReleaseError(key, err)
		}
	}
	return c.store.Close(ctx)
}

// readOutcome is the shared result of one coalesced store round trip.
// ok=false means the read was inconclusive (store error or timeout): the
// caller must not treat it as a confirmed miss.
type readOutcome[V any] struct {
	val V
	ttl time.Duration
	hit bool
	ok  bool
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, GetResult, error) {
	var zero V
	if !c.enabled {
		return zero, GetResult{}, nil
	}

	out, err := c.readThrough(ctx, key)
	if err != nil {
		return zero, GetResult{}, err
	}
	if out.hit {
		return out.val, c.result(out), nil
	}
	if !out.ok || c.locker == nil {
		// inconclusive read: skip fill coordination so an outage is not
		// amplified into a recompute-and-write stampede
		return zero, GetResult{}, nil
	}

	lease, err := c.locker.Acquire(ctx, lockNamePrefix+key, c.lockOpts)
	if err != nil {
		if errors.Is(err, lk.ErrNotAcquired) {
			// the responder held the lease past our patience; compute
			// independently rather than block (computation is idempotent)
			c.hooks.LockWaitExhausted(key)
			c.log.Debug("fill lease wait exhausted", Fields{"key": key})
		} else {
			c.hooks.LockError(key, err)
			c.log.Warn("fill lease unavailable", Fields{"key": key, "err": err})
		}
		return zero, GetResult{}, nil
	}

	c.hooks.LockAcquired(key, lease.Attempts())
	if lease.Attempts() == 1 {
		// first responder: hold the lease until Set or OnSkipCache
		c.storeLease(key, lease)
		return zero, GetResult{}, nil
	}

	// Won only after retrying against other waiters, so the original
	// responder most likely filled the store already. Give the lease up
	// and re-read instead of taking over responder duties.
	if rerr := lease.Release(ctx); rerr != nil {
		c.hooks.LockReleaseError(key, rerr)
	}
	out, err = c.readThrough(ctx, key)
	if err != nil {
		return zero, GetResult{}, err
	}
	if out.hit {
		return out.val, c.result(out), nil
	}
	return zero, GetResult{}, nil
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, entities []EntityRef, ttl time.Duration) {
	// the lease must never outlive this fill attempt, even when the
	// store write fails
	defer c.releaseLease(ctx, key)
	if !c.enabled {
		return
	}

	payload, err := c.codec.Encode(value)
	if err != nil {
		c.hooks.EncodeError(key, err)
		c.log.Error("encode failed; entry not cached", Fields{"key": key, "err": err})
		return
	}

	err = c.store.Pipelined(ctx, func(p st.Pipeline) error {
		p.Set(key, payload, ttl)
		opTag := c.operationTag(key)
		for _, e := range entities {
			if e.TypeName == "" {
				continue
			}
			p.SAdd(e.TypeName, key)
			p.SAdd(opTag, e.TypeName)
			if e.ID != "" {
				tag := c.entityTag(e.TypeName, e.ID)
				p.SAdd(tag, key)
				p.SAdd(opTag, tag)
			}
		}
		return nil
	})
	if err != nil {
		c.hooks.StoreWriteError(key, err)
		c.log.Warn("set batch failed", Fields{"key": key, "entities": len(entities), "err": err})
	}
}

func (c *cache[V]) OnSkipCache(ctx context.Context, key string) {
	c.releaseLease(ctx, key)
}

// readThrough runs one coalesced store read. Concurrent callers for the
// same key share a single round trip and its outcome; only decode failures
// surface as errors.
func (c *cache[V]) readThrough(ctx context.Context, key string) (readOutcome[V], error) {
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.readStore(ctx, key)
	})
	if err != nil {
		return readOutcome[V]{}, err
	}
	return v.(readOutcome[V]), nil
}

func (c *cache[V]) readStore(ctx context.Context, key string) (readOutcome[V], error) {
	rctx := ctx
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}

	var (
		raw   []byte
		ttl   = st.NoExpiry
		found bool
		err   error
	)
	if c.debug {
		raw, ttl, found, err = c.store.GetWithTTL(rctx, key)
	} else {
		raw, found, err = c.store.Get(rctx, key)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.hooks.StoreReadTimeout(key)
			c.log.Warn("store read timed out", Fields{"key": key, "timeout": c.readTimeout})
		} else {
			c.hooks.StoreReadError(key, err)
			c.log.Warn("store read failed", Fields{"key": key, "err": err})
		}
		return readOutcome[V]{}, nil // inconclusive, not a miss
	}
	if !found {
		return readOutcome[V]{ok: true}, nil
	}

	v, derr := c.codec.Decode(raw)
	if derr != nil {
		// a corrupt entry is a compat/programming error; masking it as a
		// miss would recompute and overwrite the evidence
		return readOutcome[V]{}, fmt.Errorf("tagcache: decode entry %q: %w", key, derr)
	}
	return readOutcome[V]{val: v, ttl: ttl, hit: true, ok: true}, nil
}

func (c *cache[V]) result(out readOutcome[V]) GetResult {
	r := GetResult{Hit: true}
	if c.debug {
		r.TTL = out.ttl
	}
	return r
}
