package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 45 * time.Second
)

// ErrLockTimeout is returned when a lock could not be acquired before the wait deadline.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker serializes work on a key across publishers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	LockKey(scope, id string) string
}

// RedisLocker implements Locker using Redis SETNX + TTL with an owner token,
// so a holder whose lease expired never deletes a successor's lock. The lease
// is renewed every third of the TTL until unlock.
type RedisLocker struct {
	client redisStore
	scope  string
	ttl    time.Duration
	wait   time.Duration
	poll   backoff.Backoff
}

// NewRedisLocker constructs a Redis-backed locker for the given key scope.
func NewRedisLocker(client redisStore, scope string, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if scope == "" {
		return nil, errors.New("lock scope is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		client: client,
		scope:  scope,
		ttl:    ttl,
		wait:   defaultLockWait,
		poll:   backoff.Backoff{Min: 25 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: true},
	}, nil
}

// Lock blocks until the lock is owned, ctx is done or the wait deadline passes.
func (l *RedisLocker) Lock(ctx context.Context, id string) (func(), error) {
	key := l.client.LockKey(l.scope, id)
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	bo := l.poll

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			return l.hold(key, owner), nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		timer := time.NewTimer(bo.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// hold keeps the lease alive while the caller works. Renewal stops on unlock
// or once another owner holds the key.
func (l *RedisLocker) hold(key, owner string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				held, err := l.client.ExtendLock(ctx, key, owner, l.ttl)
				cancel()
				if err == nil && !held {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
			l.release(key, owner)
		})
	}
}

// release frees the lock only if owner still holds it. It uses a fresh
// context so a cancelled request still releases its lock; a failed release
// is left to the TTL.
func (l *RedisLocker) release(key, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = l.client.ReleaseLock(ctx, key, owner)
}

// LocalLocker is the in-process Locker used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*localLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.drop(key, entry)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
