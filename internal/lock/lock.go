// Package lock provides per-tenant, non-blocking mutual exclusion for
// periodic passes such as the scheduler tick. A pass that cannot take its
// lock skips the tenant instead of waiting.
package lock

import (
	"context"
	"hash/fnv"
)

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases. TryAcquire returns custom_errors.ErrLockNotAcquired
// when another holder has the lock.
type Locker interface {
	TryAcquire(ctx context.Context, tenantID, name string) (Lease, error)
}

// Key is the lock identity for a named pass on one tenant.
func Key(tenantID, name string) string {
	return name + "/" + tenantID
}

// AdvisoryKey maps a lock name onto the bigint key space of pg advisory locks.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
