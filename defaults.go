package tagcache

import "time"

const (
	defaultLockTTL               = 5 * time.Second
	defaultLockRetryDelay        = 250 * time.Millisecond
	defaultInvalidateConcurrency = 20

	// tagSeparator joins TypeName and ID in instance tags. Bare type
	// names must not contain it; that is what lets invalidation tell a
	// type-level tag from an instance-level one.
	tagSeparator = ":"

	operationTagPrefix = "operations:"
	lockNamePrefix     = "lock:"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
