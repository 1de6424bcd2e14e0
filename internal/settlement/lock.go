package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/haldirect/settlement-backend/pkg/errors"
)

const (
	orderLockScope      = "settlement-order"
	defaultOrderLockTTL = 2 * time.Minute
)

// lockStore defines the Redis operations used by OrderLocker.
type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// OrderLocker serializes settlement work per order across processes. Database
// row locks still guard each transaction; this keeps two workers from even
// starting concurrent gateway calls for the same order.
type OrderLocker struct {
	store lockStore
	ttl   time.Duration
}

// NewOrderLocker builds a Redis-backed per-order lock.
func NewOrderLocker(store lockStore, ttl time.Duration) (*OrderLocker, error) {
	if store == nil {
		return nil, errors.New("lock store required")
	}
	if ttl <= 0 {
		ttl = defaultOrderLockTTL
	}
	return &OrderLocker{store: store, ttl: ttl}, nil
}

// Acquire takes the per-order lock and returns a release func. A held lock
// surfaces as a conflict so callers can retry later.
func (l *OrderLocker) Acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	key := l.store.LockKey(orderLockScope, orderID.String())
	owner := uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire order lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("settlement already running for order %s", orderID))
	}

	release := func() {
		// Only delete if still owned; the TTL may have expired mid-run.
		value, err := l.store.Get(context.Background(), key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return
			}
			return
		}
		if value != owner {
			return
		}
		_ = l.store.Del(context.Background(), key)
	}
	return release, nil
}
