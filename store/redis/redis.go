package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	st "github.com/unkn0wn-root/tagcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// Redis adapts a go-redis client to the store.Store contract.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ st.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

// GetWithTTL pipelines GET and PTTL so both observe the same round trip.
func (s *Redis) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		get  *goredis.StringCmd
		pttl *goredis.DurationCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		get = p.Get(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && err != goredis.Nil {
		return nil, 0, false, err
	}
	b, err := get.Bytes()
	if err == goredis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	ttl, err := pttl.Result()
	if err != nil {
		return nil, 0, false, err
	}
	if ttl < 0 {
		// PTTL returns -1 for keys without expiry.
		ttl = st.NoExpiry
	}
	return b, ttl, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL means "no expiry" per store contract
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

// Scan walks the SCAN cursor to completion rather than using KEYS, which
// blocks the server on large namespaces.
func (s *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 0).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Redis) Pipelined(ctx context.Context, fn func(st.Pipeline) error) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		return fn(&pipeline{ctx: ctx, p: p})
	})
	return err
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type pipeline struct {
	ctx context.Context
	p   goredis.Pipeliner
}

var _ st.Pipeline = (*pipeline)(nil)

func (q *pipeline) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 0
	}
	q.p.Set(q.ctx, key, value, ttl)
}

func (q *pipeline) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	q.p.SAdd(q.ctx, key, args...)
}
