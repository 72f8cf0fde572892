package distributed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/duel-tournament/services"
	"github.com/google/uuid"
)

const keyPrefix = "duel-tournament:lock:"

// Locker adapts RedisLockManager to services.Locker. The TTL bounds how long a crashed
// holder can block a tournament; a live holder keeps extending it until release.
type Locker struct {
	manager       *RedisLockManager
	ttl           time.Duration
	retryInterval time.Duration
	log           *slog.Logger
}

var _ services.Locker = (*Locker)(nil)

func NewLocker(manager *RedisLockManager, ttl time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		manager:       manager,
		ttl:           ttl,
		retryInterval: 25 * time.Millisecond,
		log:           logger.With("component", "redis_locker"),
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.manager.AcquireLockWait(ctx, keyPrefix+key, uuid.NewString(), l.ttl, l.retryInterval)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(lock, key, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				l.log.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lock every third of its TTL until stop is closed or the lock is lost.
func (l *Locker) keepAlive(lock *RedisLock, key string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := lock.Extend(ctx, l.ttl)
			cancel()
			if errors.Is(err, ErrLockNotHeld) {
				l.log.Warn("Lock lost before release", "key", key)
				return
			}
			if err != nil {
				l.log.Warn("Failed to extend lock", "key", key, "error", err)
			}
		}
	}
}
