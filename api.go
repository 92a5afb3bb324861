package tagcache

import (
	"context"
	"time"

	cd "github.com/unkn0wn-root/tagcache/codec"
	lk "github.com/unkn0wn-root/tagcache/lock"
	st "github.com/unkn0wn-root/tagcache/store"
)

// EntityRef identifies a data entity a cached result read. An empty ID
// refers to every instance of the type.
type EntityRef struct {
	TypeName string
	ID       string
}

// GetResult carries read metadata alongside the value.
type GetResult struct {
	// Hit is true when the store returned an entry for the key.
	Hit bool

	// TTL is the entry's remaining TTL. Populated only when
	// Options.Debug is set; store.NoExpiry for entries without expiry.
	TTL time.Duration
}

// EntityTagFunc builds the instance-level tag for a (TypeName, ID) pair.
// The result must contain a separator that never appears in bare type
// names; the default is "TypeName:ID".
type EntityTagFunc func(typeName, id string) string

// OperationTagFunc builds the store key holding the set of tags a cached
// key depends on. The default is "operations:<key>".
type OperationTagFunc func(key string) string

// Cache is the engine contract consumed by the caching middleware.
// Get never reports store outages as errors; its error return is reserved
// for corrupt entries (decode failures). Set, Invalidate and OnSkipCache
// never fail from the caller's perspective - operational errors are sunk
// to Hooks and the Logger.
type Cache[V any] interface {
	Enabled() bool

	// Get returns the cached value for key. A miss (or an inconclusive
	// read during a store outage) returns the zero V with Hit=false.
	Get(ctx context.Context, key string) (V, GetResult, error)

	// Set writes the entry and its tag index in one pipelined batch and
	// releases any fill lease this process holds for key. ttl <= 0
	// stores the entry without expiry.
	Set(ctx context.Context, key string, value V, entities []EntityRef, ttl time.Duration)

	// Invalidate deletes every cached entry depending on the given
	// entities, best-effort.
	Invalidate(ctx context.Context, entities []EntityRef)

	// OnSkipCache releases a held fill lease for key without writing a
	// value. Safe to call when no lease is held.
	OnSkipCache(ctx context.Context, key string)

	Close(ctx context.Context) error
}

// Options tune the cache. Only Store and Codec are required; others have
// sensible defaults.
type Options[V any] struct {
	// Required
	Store st.Store
	Codec cd.Codec[V]

	// Locker coordinates fills across processes. nil disables dogpile
	// prevention: every miss computes independently.
	Locker lk.Client

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	EntityTag    EntityTagFunc    // nil => "TypeName:ID"
	OperationTag OperationTagFunc // nil => "operations:<key>"

	LockTTL        time.Duration // 0 => 5s
	LockRetryDelay time.Duration // 0 => 250ms
	LockRetryCount int           // 0 => 2 * LockTTL / LockRetryDelay

	// ReadTimeout bounds a single store read; an elapsed timeout is an
	// inconclusive read, not a miss. 0 disables the bound.
	ReadTimeout time.Duration

	// InvalidateConcurrency caps in-flight deletes per invalidation
	// chunk. 0 => 20.
	InvalidateConcurrency int

	Debug    bool // report remaining TTL on reads
	Disabled bool // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
