package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"QuotePull/pkg/util"
)

// RedisLedger is the durable run ledger: one key per calendar date holding
// the job id that claimed it. SetNX gives atomic duplicate-run suppression
// across processes and restarts.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "quotepull:ledger"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(date time.Time) string {
	return fmt.Sprintf("%s:%s", l.prefix, util.DateKey(date))
}

// Claim writes date -> jobID unless the date was already claimed.
func (l *RedisLedger) Claim(ctx context.Context, date time.Time, jobID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(date), jobID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim: %w", err)
	}
	return ok, nil
}

// Get returns the job id claimed for a date, or "" when unclaimed.
func (l *RedisLedger) Get(ctx context.Context, date time.Time) (string, error) {
	v, err := l.client.Get(ctx, l.key(date)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger get: %w", err)
	}
	return v, nil
}
