package lock

import (
	"context"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"time"
)

// releaseScript deletes the key only if this lease still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes leases with SET NX and a TTL so a crashed holder cannot
// keep a tenant locked forever.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "daino:lock:"}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, tenantID, name string) (Lease, error) {
	key := l.prefix + Key(tenantID, name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, custom_errors.ErrLockNotAcquired
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
