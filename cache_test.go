package tagcache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cd "github.com/unkn0wn-root/tagcache/codec"
	lk "github.com/unkn0wn-root/tagcache/lock"
	st "github.com/unkn0wn-root/tagcache/store"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memStore is an in-memory store.Store with enough instrumentation to
// observe coalescing, chunked deletes and failure handling.
type memStore struct {
	mu   sync.Mutex
	vals map[string]memEntry
	sets map[string]map[string]struct{}

	getErr      error
	pipeErr     error
	smembersErr error

	// gate, when non-nil, blocks reads until closed. entered is closed
	// when the first read arrives at the gate.
	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once

	getCalls atomic.Int64

	delDelay    time.Duration
	delCalls    atomic.Int64
	delInFlight atomic.Int64
	delMaxSeen  atomic.Int64
}

var _ st.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		vals:    make(map[string]memEntry),
		sets:    make(map[string]map[string]struct{}),
		entered: make(chan struct{}),
	}
}

func (s *memStore) lookup(key string) ([]byte, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.vals[key]
	if !ok {
		return nil, 0, false
	}
	if e.exp.IsZero() {
		return e.v, st.NoExpiry, true
	}
	left := time.Until(e.exp)
	if left <= 0 {
		delete(s.vals, key)
		return nil, 0, false
	}
	return e.v, left, true
}

func (s *memStore) read(ctx context.Context) error {
	s.getCalls.Add(1)
	if s.gate != nil {
		s.enterOnce.Do(func() { close(s.entered) })
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.getErr
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.read(ctx); err != nil {
		return nil, false, err
	}
	v, _, ok := s.lookup(key)
	return v, ok, nil
}

func (s *memStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if err := s.read(ctx); err != nil {
		return nil, 0, false, err
	}
	v, ttl, ok := s.lookup(key)
	return v, ttl, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
	return nil
}

func (s *memStore) set(key string, value []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.vals[key] = memEntry{v: value, exp: exp}
}

func (s *memStore) sadd(key string, members ...string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
}

func (s *memStore) SMembers(_ context.Context, key string) ([]string, error) {
	if s.smembersErr != nil {
		return nil, s.smembersErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.vals {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.delCalls.Add(int64(len(keys)))
	cur := s.delInFlight.Add(1)
	for {
		max := s.delMaxSeen.Load()
		if cur <= max || s.delMaxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if s.delDelay > 0 {
		time.Sleep(s.delDelay)
	}
	s.mu.Lock()
	for _, k := range keys {
		delete(s.vals, k)
		delete(s.sets, k)
	}
	s.mu.Unlock()
	s.delInFlight.Add(-1)
	return nil
}

type memPipeline struct {
	ops []func(*memStore)
}

var _ st.Pipeline = (*memPipeline)(nil)

func (p *memPipeline) Set(key string, value []byte, ttl time.Duration) {
	p.ops = append(p.ops, func(s *memStore) { s.set(key, value, ttl) })
}

func (p *memPipeline) SAdd(key string, members ...string) {
	p.ops = append(p.ops, func(s *memStore) { s.sadd(key, members...) })
}

func (s *memStore) Pipelined(_ context.Context, fn func(st.Pipeline) error) error {
	p := &memPipeline{}
	if err := fn(p); err != nil {
		return err
	}
	if s.pipeErr != nil {
		return s.pipeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range p.ops {
		op(s)
	}
	return nil
}

func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) hasSet(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key]
	return ok
}

func (s *memStore) hasVal(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vals[key]
	return ok
}

// memLock is an in-process lock.Client with real contention semantics:
// a held name forces callers into the retry loop.
type memLock struct {
	mu   sync.Mutex
	held map[string]bool

	acquireCalls atomic.Int64
	releases     atomic.Int64
}

var _ lk.Client = (*memLock)(nil)

func newMemLock() *memLock { return &memLock{held: make(map[string]bool)} }

func (l *memLock) Acquire(ctx context.Context, name string, opts lk.Options) (lk.Lease, error) {
	l.acquireCalls.Add(1)
	tries := opts.RetryCount + 1
	if tries < 1 {
		tries = 1
	}
	for attempt := 1; attempt <= tries; attempt++ {
		l.mu.Lock()
		if !l.held[name] {
			l.held[name] = true
			l.mu.Unlock()
			return &memLease{l: l, name: name, attempts: attempt}, nil
		}
		l.mu.Unlock()
		if attempt == tries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, lk.ErrNotAcquired
}

func (l *memLock) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

func (l *memLock) forceHold(name string) {
	l.mu.Lock()
	l.held[name] = true
	l.mu.Unlock()
}

func (l *memLock) forceRelease(name string) {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
}

type memLease struct {
	l        *memLock
	name     string
	attempts int
}

func (m *memLease) Attempts() int { return m.attempts }

func (m *memLease) Release(context.Context) error {
	m.l.mu.Lock()
	delete(m.l.held, m.name)
	m.l.mu.Unlock()
	m.l.releases.Add(1)
	return nil
}

// failLock always errors, simulating an unreachable lock backend.
type failLock struct{}

func (failLock) Acquire(context.Context, string, lk.Options) (lk.Lease, error) {
	return nil, errors.New("lock backend down")
}

// hookRecorder counts events for assertions.
type hookRecorder struct {
	NopHooks
	readErrs    atomic.Int64
	readTimeout atomic.Int64
	lockErrs    atomic.Int64
	lockWaits   atomic.Int64
	traversals  atomic.Int64
}

func (h *hookRecorder) StoreReadError(string, error)           { h.readErrs.Add(1) }
func (h *hookRecorder) StoreReadTimeout(string)                { h.readTimeout.Add(1) }
func (h *hookRecorder) LockError(string, error)                { h.lockErrs.Add(1) }
func (h *hookRecorder) LockWaitExhausted(string)               { h.lockWaits.Add(1) }
func (h *hookRecorder) InvalidateTraversalError(string, error) { h.traversals.Add(1) }

type response struct {
	Data string `json:"data"`
}

func newTestCache(t *testing.T, ms st.Store, mod func(*Options[response])) Cache[response] {
	t.Helper()
	opts := Options[response]{
		Store: ms,
		Codec: cd.JSON[response]{},
	}
	if mod != nil {
		mod(&opts)
	}
	cc, err := New[response](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// ==============================
// Read/write path
// ==============================

func TestGetMissThenSetThenHit(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, ms, func(o *Options[response]) { o.Debug = true })
	defer cc.Close(ctx)

	if _, res, err := cc.Get(ctx, "r1"); err != nil || res.Hit {
		t.Fatalf("expected miss, got hit=%v err=%v", res.Hit, err)
	}

	want := response{Data: "hello"}
	cc.Set(ctx, "r1", want, nil, time.Second)

	got, res, err := cc.Get(ctx, "r1")
	if err != nil || !res.Hit {
		t.Fatalf("expected hit, got hit=%v err=%v", res.Hit, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if res.TTL <= 0 || res.TTL > time.Second {
		t.Fatalf("remaining TTL = %v, want in (0, 1s]", res.TTL)
	}
}

func TestEntryExpires(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, ms, nil)
	defer cc.Close(ctx)

	cc.Set(ctx, "r1", response{Data: "x"}, nil, 30*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	if _, res, err := cc.Get(ctx, "r1"); err != nil || res.Hit {
		t.Fatalf("expected expiry miss, got hit=%v err=%v", res.Hit, err)
	}
}

func TestNoExpiryEntry(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, ms, func(o *Options[response]) { o.Debug = true })
	defer cc.Close(ctx)

	cc.Set(ctx, "r1", response{Data: "x"}, nil, 0) // ttl <= 0 => no expiry

	_, res, err := cc.Get(ctx, "r1")
	if err != nil || !res.Hit {
		t.Fatalf("expected hit, got hit=%v err=%v", res.Hit, err)
	}
	if res.TTL != st.NoExpiry {
		t.Fatalf("TTL = %v, want NoExpiry", res.TTL)
	}
}

func TestConcurrentGetsCoalesce(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.gate = make(chan struct{})
	cc := newTestCache(t, ms, nil)
	defer cc.Close(ctx)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, res, err := cc.Get(ctx, "r1"); err != nil || res.Hit {
				t.Errorf("expected clean miss, got hit=%v err=%v", res.Hit, err)
			}
		}()
	}

	<-ms.entered
	time.Sleep(50 * time.Millisecond) // let the rest join the in-flight call
	close(ms.gate)
	wg.Wait()

	if n := ms.getCalls.Load(); n != 1 {
		t.Fatalf("store GETs = %d, want 1", n)
	}
}

func TestDecodeErrorPropagates(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	_ = ms.Set(ctx, "r1", []byte("{not json"), 0)
	cc := newTestCache(t, ms, nil)
	defer cc.Close(ctx)

	if _, _, err := cc.Get(ctx, "r1"); err == nil {
		t.Fatal("expected decode error for corrupt entry")
	}
}

func TestStoreErrorIsInconclusive(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.getErr = errors.New("store down")
	locker := newMemLock()
	rec := &hookRecorder{}
	cc := newTestCache(t, ms, func(o *Options[response]) {
		o.Locker = locker
		o.Hooks = rec
	})
	defer cc.Close(ctx)

	_, res, err := cc.Get(ctx, "r1")
	if err != nil || res.Hit {
		t.Fatalf("soft failure must look like a miss, got hit=%v err=%v", res.Hit, err)
	}
	// an inconclusive read must not reach for the fill lock
	if n := locker.acquireCalls.Load(); n != 0 {
		t.Fatalf("lock acquires = %d, want 0", n)
	}
	if rec.readErrs.Load() == 0 {
		t.Fatal("expected StoreReadError hook")
	}
}

func TestReadTimeoutIsInconclusive(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.gate = make(chan struct{}) // never released during the read
	locker := newMemLock()
	rec := &hookRecorder{}
	cc := newTestCache(t, ms, func(o *Options[response]) {
		o.ReadTimeout = 20 * time.Millisecond
		o.Locker = locker
		o.Hooks = rec
	})
	defer close(ms.gate)
	defer cc.Close(ctx)

	start := time.Now()
	_, res, err := cc.Get(ctx, "r1")
	if err != nil || res.Hit {
		t.Fatalf("timeout must look like a miss, got hit=%v err=%v", res.Hit, err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("read did not respect timeout, took %v", elapsed)
	}
	if rec.readTimeout.Load() == 0 {
		t.Fatal("expected StoreReadTimeout hook")
	}
	if n := locker.acquireCalls.Load(); n != 0 {
		t.Fatalf("lock acquires = %d, want 0", n)
	}
}

func TestDisabledCacheIsInert(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, ms, func(o *Options[response]) { o.Disabled = true })

	cc.Set(ctx, "r1", response{Data: "x"}, []EntityRef{{TypeName: "User", ID: "1"}}, 0)
	if _, res, err := cc.Get(ctx, "r1"); err != nil || res.Hit {
		t.Fatalf("disabled cache must miss, got hit=%v err=%v", res.Hit, err)
	}
	if ms.hasVal("r1") || ms.hasSet("User") {
		t.Fatal("disabled cache must not touch the store")
	}
	if cc.Enabled() {
		t.Fatal("Enabled() = true for disabled cache")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New[response](Options[response]{Codec: cd.JSON[response]{}}); err == nil {
		t.Fatal("expected error for missing store")
	}
	if _, err := New[response](Options[response]{Store: newMemStore()}); err == nil {
		t.Fatal("expected error for missing codec")
	}
}
