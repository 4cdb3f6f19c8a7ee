package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"data-cleaning-service/internal/models"
)

// JobLocker grants per-job exclusive leases in Redis.
type JobLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewJobLocker(client *redis.Client, ttl time.Duration) *JobLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JobLocker{client: client, ttl: ttl}
}

func lockKey(jobID string) string {
	return "lock:job:" + jobID
}

// Acquire takes the job's lock or returns models.ErrJobBusy. The returned
// release only deletes the lock while it still holds the acquiring token.
func (l *JobLocker) Acquire(ctx context.Context, jobID string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(jobID), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrJobBusy)
	}
	return func() {
		// The phase context may already be cancelled here.
		_ = unlockScript.Run(context.Background(), l.client, []string{lockKey(jobID)}, token).Err()
	}, nil
}

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ClaimIdempotencyKey maps key to jobID unless another job already holds it,
// in which case that job's id is returned with claimed false.
func (q *RedisQueue) ClaimIdempotencyKey(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	k := "idempotency:" + key
	ok, err := q.client.SetNX(ctx, k, jobID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return jobID, true, nil
	}
	existing, err := q.client.Get(ctx, k).Result()
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, false, nil
}

// ReleaseIdempotencyKey drops a claim whose job was never created.
func (q *RedisQueue) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return q.client.Del(ctx, "idempotency:"+key).Err()
}
