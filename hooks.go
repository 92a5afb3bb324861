package tagcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A store read failed; the read was reported to the caller as
	// inconclusive (miss without fill coordination).
	StoreReadError(key string, err error)

	// A store read exceeded the configured read timeout.
	StoreReadTimeout(key string)

	// The Set batch (entry write plus index updates) failed as a whole.
	// Store-side partial effects are not rolled back.
	StoreWriteError(key string, err error)

	// The value could not be encoded; the entry was not cached.
	EncodeError(key string, err error)

	// A fill lease was acquired. attempts == 1 marks the first responder.
	LockAcquired(key string, attempts int)

	// Lease retries exhausted while another process held the lease; the
	// caller computes uncoordinated.
	LockWaitExhausted(key string)

	// The lock backend failed (unreachable, protocol error).
	LockError(key string, err error)

	// Releasing a held lease failed; the lease will fall back to its TTL.
	LockReleaseError(key string, err error)

	// A traversal sub-path (reverse-index read or instance scan) failed
	// during invalidation and was treated as "no dependents".
	InvalidateTraversalError(tag string, err error)

	// One delete inside an invalidation chunk failed; remaining entries
	// expire via their own TTL.
	InvalidateDeleteError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) StoreReadError(string, error)           {}
func (NopHooks) StoreReadTimeout(string)                {}
func (NopHooks) StoreWriteError(string, error)          {}
func (NopHooks) EncodeError(string, error)              {}
func (NopHooks) LockAcquired(string, int)               {}
func (NopHooks) LockWaitExhausted(string)               {}
func (NopHooks) LockError(string, error)                {}
func (NopHooks) LockReleaseError(string, error)         {}
func (NopHooks) InvalidateTraversalError(string, error) {}
func (NopHooks) InvalidateDeleteError(string, error)    {}
