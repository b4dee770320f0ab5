package standards

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by an unlock whose lock expired and was taken
// over by another owner.
var ErrLockNotHeld = errors.New("lock not held by this owner")

const defaultLockPoll = 100 * time.Millisecond

// Locker serializes index rebuilds across processes.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// FileLocker locks by exclusively creating <Dir>/<key>.lock. A lock file
// older than TTL belongs to a crashed owner and is broken.
type FileLocker struct {
	Dir  string
	TTL  time.Duration
	Poll time.Duration
}

// Lock implements Locker.
func (l *FileLocker) Lock(ctx context.Context, key string) (func() error, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(l.Dir, key+".lock")
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock file %s: %w", path, errors.Join(werr, cerr))
			}
			return func() error {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return err
				}
				return nil
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}

		if info, err := os.Stat(path); err == nil && l.TTL > 0 && time.Since(info.ModTime()) > l.TTL {
			os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

var redisUnlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker locks with SET NX PX so hosts sharing a standards cache on a
// network volume rebuild each standard once.
type RedisLocker struct {
	Client redis.Cmdable
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
}

// NewRedisLocker returns a RedisLocker with the default key prefix.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{Client: client, Prefix: "kravscan:lock:", TTL: ttl}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func() error, error) {
	k := l.Prefix + key
	token := uuid.NewString()
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}

	for {
		ok, err := l.Client.SetNX(ctx, k, token, ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquiring lock %s: %w", k, err)
		}
		if ok {
			return func() error {
				// The caller's ctx may be done by now.
				res, err := redisUnlockScript.Run(context.Background(), l.Client, []string{k}, token).Int64()
				if err != nil {
					return fmt.Errorf("releasing lock %s: %w", k, err)
				}
				if res == 0 {
					return ErrLockNotHeld
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
