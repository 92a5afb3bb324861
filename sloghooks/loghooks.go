package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
)

type Options struct {
	// Sampling to avoid floods during a store outage; 0/1 = log all.
	ReadErrorEvery    uint64
	TraversalErrEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

// Hooks logs cache events through slog. Read errors and traversal errors
// can be sampled because they fire once per affected key while a backend
// is down.
type Hooks struct {
	l    *slog.Logger
	opts Options

	readErrCtr      atomic.Uint64
	traversalErrCtr atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StoreReadError(key string, err error) {
	if h.l == nil || !sample(h.opts.ReadErrorEvery, &h.readErrCtr) {
		return
	}
	h.l.Warn("tagcache.store_read_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) StoreReadTimeout(key string) {
	if h.l == nil || !sample(h.opts.ReadErrorEvery, &h.readErrCtr) {
		return
	}
	h.l.Warn("tagcache.store_read_timeout",
		"key", h.redact(key))
}

func (h *Hooks) StoreWriteError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.store_write_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) EncodeError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tagcache.encode_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) LockAcquired(key string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Debug("tagcache.lock_acquired",
		"key", h.redact(key),
		"attempts", attempts)
}

func (h *Hooks) LockWaitExhausted(key string) {
	if h.l == nil {
		return
	}
	h.l.Info("tagcache.lock_wait_exhausted",
		"key", h.redact(key))
}

func (h *Hooks) LockError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.lock_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) LockReleaseError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.lock_release_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) InvalidateTraversalError(tag string, err error) {
	if h.l == nil || !sample(h.opts.TraversalErrEvery, &h.traversalErrCtr) {
		return
	}
	h.l.Warn("tagcache.invalidate_traversal_error",
		"tag", tag,
		"err", err)
}

func (h *Hooks) InvalidateDeleteError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.invalidate_delete_error",
		"key", h.redact(key),
		"err", err)
}
