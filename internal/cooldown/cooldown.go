// Package cooldown keeps the account-scoped rate-limit state every worker
// must see: once a provider throttles an account, all workers exclude it from
// claiming until the window expires. Redis holds the window set so it is
// shared across worker processes.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const accountsKey = "cooldown:accounts"

// Set tracks active cool-down windows in a Redis sorted set keyed by expiry.
type Set struct {
	client *redis.Client
	now    func() time.Time
}

// New builds a cool-down set on an existing Redis client.
func New(client *redis.Client) *Set {
	return &Set{client: client, now: time.Now}
}

// Open starts (or extends) an account's cool-down window. A shorter window
// never truncates a longer one already in place.
var openScript = redis.NewScript(`
local key = KEYS[1]
local member = ARGV[1]
local until_ms = tonumber(ARGV[2])
local current = redis.call('ZSCORE', key, member)
if current == false or tonumber(current) < until_ms then
  redis.call('ZADD', key, until_ms, member)
end
return redis.call('ZSCORE', key, member)
`)

func (s *Set) Open(ctx context.Context, accountID string, d time.Duration) error {
	until := s.now().Add(d).UnixMilli()
	if err := openScript.Run(ctx, s.client, []string{accountsKey}, accountID, until).Err(); err != nil {
		return fmt.Errorf("open cooldown: %w", err)
	}
	return nil
}

// Active prunes expired windows and returns the accounts still cooling down.
func (s *Set) Active(ctx context.Context) ([]string, error) {
	now := s.now().UnixMilli()
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, accountsKey, "-inf", fmt.Sprintf("%d", now))
	active := pipe.ZRangeByScore(ctx, accountsKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", now),
		Max: "+inf",
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read cooldowns: %w", err)
	}
	return active.Val(), nil
}

// Remaining reports how long an account's window has left, zero when none.
func (s *Set) Remaining(ctx context.Context, accountID string) (time.Duration, error) {
	score, err := s.client.ZScore(ctx, accountsKey, accountID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cooldown: %w", err)
	}
	remaining := time.UnixMilli(int64(score)).Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
