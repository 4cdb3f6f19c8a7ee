package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/telemetry"
)

// Lanes are drained in this order so jobs already in flight finish before new
// ones start.
var Lanes = []models.Phase{models.PhaseApply, models.PhaseSuggest, models.PhaseProfile}

// RedisQueue coordinates ready, in-flight, and scheduled phase tasks in Redis.
type RedisQueue struct {
	client         *redis.Client
	inflightKey    string
	scheduledKey   string
	taskMetaPrefix string
	visibilityTTL  time.Duration
	dlqKey         string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), cfg)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "queue:dlq"
	}
	return &RedisQueue{
		client:         client,
		inflightKey:    "queue:inflight",
		scheduledKey:   "queue:scheduled",
		taskMetaPrefix: "queue:taskmeta:",
		visibilityTTL:  visibility,
		dlqKey:         dlq,
	}
}

// Client exposes the underlying Redis client for sibling components.
func (q *RedisQueue) Client() *redis.Client { return q.client }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) readyKey(phase models.Phase) string {
	return fmt.Sprintf("queue:ready:%s", phase)
}

func (q *RedisQueue) metaKey(member string) string {
	return q.taskMetaPrefix + member
}

// member encodes a task as a queue entry.
func member(t models.Task) string {
	return t.JobID + "|" + string(t.Phase)
}

func parseMember(m string) (models.Task, error) {
	id, phase, ok := strings.Cut(m, "|")
	if !ok || id == "" || phase == "" {
		return models.Task{}, fmt.Errorf("malformed task entry %q", m)
	}
	return models.Task{JobID: id, Phase: models.Phase(phase)}, nil
}

// Dispatch makes a task ready immediately.
func (q *RedisQueue) Dispatch(ctx context.Context, t models.Task) error {
	if err := q.Enqueue(ctx, t, time.Time{}); err != nil {
		return fmt.Errorf("enqueue %s for job %s: %w", t.Phase, t.JobID, err)
	}
	telemetry.PhaseDispatched.WithLabelValues(string(t.Phase)).Inc()
	return nil
}

// Enqueue inserts a task into either the scheduled set or its ready lane.
func (q *RedisQueue) Enqueue(ctx context.Context, t models.Task, runAt time.Time) error {
	m := member(t)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(m), "phase", string(t.Phase), "attempts", 0)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: m})
	} else {
		pipe.RPush(ctx, q.readyKey(t.Phase), m)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule moves a task into the scheduled set for deferred execution,
// recording how many attempts it has used.
func (q *RedisQueue) Schedule(ctx context.Context, t models.Task, runAt time.Time, attempts int) error {
	m := member(t)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(m), "phase", string(t.Phase), "attempts", attempts)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: m})
	_, err := pipe.Exec(ctx)
	return err
}

// Attempts returns the attempts recorded for a task.
func (q *RedisQueue) Attempts(ctx context.Context, t models.Task) (int, error) {
	v, err := q.client.HGet(ctx, q.metaKey(member(t)), "attempts").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse attempts: %w", err)
	}
	return n, nil
}

// PromoteScheduled moves due scheduled tasks into ready lanes. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, m := range ids {
		t, err := parseMember(m)
		if err != nil {
			pipe.ZRem(ctx, q.scheduledKey, m)
			continue
		}
		pipe.ZRem(ctx, q.scheduledKey, m)
		pipe.RPush(ctx, q.readyKey(t.Phase), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a task from the ready lanes (lane order) and places it
// into inflight with a visibility timeout. ok is false when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (task models.Task, ok bool, err error) {
	keys := make([]string, 0, len(Lanes)+1)
	for _, phase := range Lanes {
		keys = append(keys, q.readyKey(phase))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, err
	}
	m, isString := res.(string)
	if !isString {
		return models.Task{}, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	task, err = parseMember(m)
	if err != nil {
		_ = q.client.ZRem(ctx, q.inflightKey, m).Err()
		return models.Task{}, false, err
	}
	return task, true, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
func (q *RedisQueue) ExtendLease(ctx context.Context, t models.Task, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: member(t),
	}).Err()
}

// Ack removes a task from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, t models.Task) error {
	m := member(t)
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, m)
	pipe.Del(ctx, q.metaKey(m))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]models.Task, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	tasks := make([]models.Task, 0, len(ids))
	pipe := q.client.TxPipeline()
	for _, m := range ids {
		pipe.ZRem(ctx, q.inflightKey, m)
		t, err := parseMember(m)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, q.readyKey(t.Phase), m)
		tasks = append(tasks, t)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Cancel removes every phase task of a job from ready, scheduled, and in-flight sets.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, phase := range Lanes {
		m := member(models.Task{JobID: jobID, Phase: phase})
		pipe.LRem(ctx, q.readyKey(phase), 0, m)
		pipe.ZRem(ctx, q.inflightKey, m)
		pipe.ZRem(ctx, q.scheduledKey, m)
		pipe.Del(ctx, q.metaKey(m))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter is a task that exhausted its attempts or failed its job.
type DeadLetter struct {
	JobID  string       `json:"job_id"`
	Phase  models.Phase `json:"phase"`
	Reason string       `json:"reason"`
	At     time.Time    `json:"at"`
}

// DLQPush appends to the dead-letter queue for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, t models.Task, reason string) error {
	body, err := json.Marshal(DeadLetter{JobID: t.JobID, Phase: t.Phase, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.dlqKey, body).Err()
}

// DLQPeek reads the oldest dead-lettered tasks.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// ReadyDepth returns the total length of all ready lanes.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(Lanes))
	for _, phase := range Lanes {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(phase)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local task = redis.call('LPOP', KEYS[i])
  if task then
    redis.call('ZADD', inflight, ARGV[1], task)
    return task
  end
end
return nil
`)
