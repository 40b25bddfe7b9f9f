package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned on release when the lock expired and another holder took it.
var ErrLockLost = errors.New("job lock no longer held")

// releaseScript deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore elects a single runner of a periodic job across replicas.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func jobLockKey(name string) string {
	return fmt.Sprintf("lock:job:%s", name)
}

// AcquireSweepLock tries to take the named job lock for ttl. On success it returns the
// token that must be presented to release it.
func (s *LockStore) AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, jobLockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrapf(err, "acquire job lock %s", name)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// ReleaseSweepLock releases the named job lock if token still owns it.
func (s *LockStore) ReleaseSweepLock(ctx context.Context, name, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{jobLockKey(name)}, token).Int()
	if err != nil {
		return errors.Wrapf(err, "release job lock %s", name)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
