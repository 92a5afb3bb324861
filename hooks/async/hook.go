// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tagcache"
//	"github.com/unkn0wn-root/tagcache/codec"
//	asynchook "github.com/unkn0wn-root/tagcache/hooks/async"
//	"github.com/unkn0wn-root/tagcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ReadErrorEvery: 10, // sample logs: ~every 10th read error
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tagcache.New[Response](tagcache.Options[Response]{
//	    Store: store,
//	    Codec: codec.JSON[Response]{},
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tagcache"
)

type Hooks struct {
	inner tagcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) StoreReadError(k string, err error) { h.try(func() { h.inner.StoreReadError(k, err) }) }
func (h *Hooks) StoreReadTimeout(k string)          { h.try(func() { h.inner.StoreReadTimeout(k) }) }
func (h *Hooks) StoreWriteError(k string, err error) {
	h.try(func() { h.inner.StoreWriteError(k, err) })
}
func (h *Hooks) EncodeError(k string, err error) { h.try(func() { h.inner.EncodeError(k, err) }) }
func (h *Hooks) LockAcquired(k string, n int)    { h.try(func() { h.inner.LockAcquired(k, n) }) }
func (h *Hooks) LockWaitExhausted(k string)      { h.try(func() { h.inner.LockWaitExhausted(k) }) }
func (h *Hooks) LockError(k string, err error)   { h.try(func() { h.inner.LockError(k, err) }) }
func (h *Hooks) LockReleaseError(k string, err error) {
	h.try(func() { h.inner.LockReleaseError(k, err) })
}
func (h *Hooks) InvalidateTraversalError(tag string, err error) {
	h.try(func() { h.inner.InvalidateTraversalError(tag, err) })
}
func (h *Hooks) InvalidateDeleteError(k string, err error) {
	h.try(func() { h.inner.InvalidateDeleteError(k, err) })
}
