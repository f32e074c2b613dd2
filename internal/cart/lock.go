package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/bookshop-backend/pkg/redis"
	"github.com/google/uuid"
)

const (
	defaultLockTTL       = 5 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// Locker serializes work on a key. The returned unlock func must be called
// exactly once; extra calls are ignored.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func lineKey(userID uuid.UUID, itemID string) string {
	return fmt.Sprintf("%s:%s", userID, itemID)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker returns an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisLocker serializes a key across processes sharing one Redis. Waiters in
// the same process queue on a LocalLocker first so only one of them polls.
type RedisLocker struct {
	store    pkgredis.LockStore
	local    *LocalLocker
	ttl      time.Duration
	interval time.Duration
	logg     *logger.Logger
}

// NewRedisLocker builds a distributed locker. ttl bounds how long a crashed
// holder can block others.
func NewRedisLocker(store pkgredis.LockStore, ttl, retryInterval time.Duration, logg *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisLocker{
		store:    store,
		local:    NewLocalLocker(),
		ttl:      ttl,
		interval: retryInterval,
		logg:     logg,
	}
}

// Lock polls SET NX until it owns key or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := l.store.LockKey("cart", key)
	token := uuid.NewString()
	for {
		ok, err := l.store.AcquireLock(ctx, redisKey, token, l.ttl)
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.interval):
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			defer unlockLocal()
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			released, err := l.store.ReleaseLock(releaseCtx, redisKey, token)
			switch {
			case err != nil:
				l.logg.Error(l.logg.WithField(ctx, "lock_key", redisKey), "release cart lock", err)
			case !released:
				l.logg.Warn(l.logg.WithField(ctx, "lock_key", redisKey), "cart lock expired before release")
			}
		})
	}, nil
}
