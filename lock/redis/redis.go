package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	lk "github.com/unkn0wn-root/tagcache/lock"
)

var ErrNilClient = errors.New("redis lock: nil client")

// releaseScript deletes the lease only while we still own it, so a lease
// that expired and was re-acquired by someone else is never clobbered.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client implements lock.Client on top of SET NX with a per-lease token.
type Client struct {
	rdb goredis.UniversalClient
}

var _ lk.Client = (*Client)(nil)

func New(client goredis.UniversalClient) (*Client, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Client{rdb: client}, nil
}

func (c *Client) Acquire(ctx context.Context, name string, opts lk.Options) (lk.Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	tries := opts.RetryCount + 1
	if tries < 1 {
		tries = 1
	}
	for attempt := 1; attempt <= tries; attempt++ {
		ok, err := c.rdb.SetNX(ctx, name, token, opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock: acquire %q: %w", name, err)
		}
		if ok {
			return &lease{rdb: c.rdb, name: name, token: token, attempts: attempt}, nil
		}
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

type lease struct {
	rdb      goredis.UniversalClient
	name     string
	token    string
	attempts int
}

var _ lk.Lease = (*lease)(nil)

func (l *lease) Attempts() int { return l.attempts }

func (l *lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.name}, l.token).Err()
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("redis lock: token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
