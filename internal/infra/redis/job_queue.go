package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/domain/ports/adapter"
)

var _ adapter.JobQueue = (*JobQueue)(nil)

// priorityWeight keeps priority dominant over the enqueue timestamp in the
// waiting set score.
const priorityWeight = 1e13

type JobQueueOptions struct {
	Prefix        string
	KeepCompleted int
	KeepFailed    int
	Retention     time.Duration
}

// JobQueue stores each job in a hash and tracks it through three sorted sets:
//
//	{prefix}:wait     ready jobs, scored by priority then enqueue time
//	{prefix}:delayed  jobs backing off, scored by ready-at millis
//	{prefix}:active   leased jobs, scored by lease deadline millis
//
// Finished jobs are pushed onto the capped {prefix}:completed and
// {prefix}:failed lists and their hash expires after Retention.
type JobQueue struct {
	cli  *redis.Client
	opts JobQueueOptions
	now  func() time.Time
}

func NewJobQueue(c *redClient, opts JobQueueOptions) *JobQueue {
	if opts.Prefix == "" {
		opts.Prefix = "image-generation"
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 500
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &JobQueue{cli: c.cli, opts: opts, now: time.Now}
}

func (q *JobQueue) jobPrefix() string { return q.opts.Prefix + ":job:" }
func (q *JobQueue) jobKey(id string) string { return q.jobPrefix() + id }
func (q *JobQueue) waitKey() string { return q.opts.Prefix + ":wait" }
func (q *JobQueue) delayedKey() string { return q.opts.Prefix + ":delayed" }
func (q *JobQueue) activeKey() string { return q.opts.Prefix + ":active" }
func (q *JobQueue) doneKey() string { return q.opts.Prefix + ":completed" }
func (q *JobQueue) failedKey() string { return q.opts.Prefix + ":failed" }

var luaEnqueue = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "payload", ARGV[2], "attempts", 0, "priority", ARGV[3],
	"enqueued_at", ARGV[4], "score", ARGV[5], "state", "waiting", "lease", "")
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
return 1`)

var luaDequeue = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2], "LIMIT", 0, 100)
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[2], id)
	local score = redis.call("HGET", ARGV[1] .. id, "score")
	if score then
		redis.call("HSET", ARGV[1] .. id, "state", "waiting")
		redis.call("ZADD", KEYS[1], score, id)
	end
end
while true do
	local head = redis.call("ZRANGE", KEYS[1], 0, 0)
	if #head == 0 then
		return false
	end
	local id = head[1]
	redis.call("ZREM", KEYS[1], id)
	local key = ARGV[1] .. id
	if redis.call("EXISTS", key) == 1 then
		local attempts = redis.call("HINCRBY", key, "attempts", 1)
		redis.call("HSET", key, "state", "active", "lease", ARGV[4])
		redis.call("ZADD", KEYS[3], ARGV[3], id)
		return {id, redis.call("HGET", key, "payload"), attempts,
			redis.call("HGET", key, "priority"), redis.call("HGET", key, "enqueued_at")}
	end
end`)

var luaFinish = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") ~= "active" or redis.call("HGET", KEYS[1], "lease") ~= ARGV[2] then
	return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[1], "state", ARGV[6], "lease", "")
redis.call("EXPIRE", KEYS[1], ARGV[5])
redis.call("LPUSH", KEYS[3], ARGV[3])
redis.call("LTRIM", KEYS[3], 0, tonumber(ARGV[4]) - 1)
return 1`)

var luaRetry = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") ~= "active" or redis.call("HGET", KEYS[1], "lease") ~= ARGV[2] then
	return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[1], "state", "delayed", "lease", "", "last_error", ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1`)

var luaRemove = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if state ~= "waiting" and state ~= "delayed" then
	return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("DEL", KEYS[1])
return 1`)

var luaRequeueExpired = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	local key = ARGV[1] .. id
	local score = redis.call("HGET", key, "score")
	if score then
		redis.call("HSET", key, "state", "waiting", "lease", "")
		redis.call("ZADD", KEYS[2], score, id)
	end
end
return #ids`)

func (q *JobQueue) Enqueue(ctx context.Context, job model.QueueJob) (bool, error) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidArgument, err)
	}
	enq := job.EnqueuedAt.UnixMilli()
	score := float64(job.Priority)*priorityWeight + float64(enq)

	n, err := luaEnqueue.Run(ctx, q.cli,
		[]string{q.jobKey(job.ID), q.waitKey()},
		job.ID, payload, job.Priority, enq, strconv.FormatFloat(score, 'f', 0, 64),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return n == 1, nil
}

func (q *JobQueue) Dequeue(ctx context.Context, lease time.Duration) (*model.QueueJob, error) {
	now := q.now()
	token := uuid.NewString()
	res, err := luaDequeue.Run(ctx, q.cli,
		[]string{q.waitKey(), q.delayedKey(), q.activeKey()},
		q.jobPrefix(), now.UnixMilli(), now.Add(lease).UnixMilli(), token,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return decodeLeased(res, token)
}

func decodeLeased(res []interface{}, token string) (*model.QueueJob, error) {
	if len(res) != 5 {
		return nil, fmt.Errorf("%w: unexpected dequeue reply", domain.ErrQueueUnavailable)
	}
	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	attempts, _ := res[2].(int64)
	priority, _ := strconv.Atoi(fmt.Sprint(res[3]))
	enqMs, _ := strconv.ParseInt(fmt.Sprint(res[4]), 10, 64)

	job := &model.QueueJob{
		ID:         id,
		Attempts:   int(attempts),
		Priority:   priority,
		EnqueuedAt: time.UnixMilli(enqMs).UTC(),
		LeaseToken: token,
	}
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload of %s: %v", domain.ErrQueueUnavailable, id, err)
	}
	return job, nil
}

func (q *JobQueue) finish(ctx context.Context, job *model.QueueJob, list string, keep int, state, reason string) error {
	rec, err := json.Marshal(model.JobRecord{
		ID:         job.ID,
		Attempts:   job.Attempts,
		Reason:     reason,
		FinishedAt: q.now().UTC(),
	})
	if err != nil {
		return err
	}
	n, err := luaFinish.Run(ctx, q.cli,
		[]string{q.jobKey(job.ID), q.activeKey(), list},
		job.ID, job.LeaseToken, rec, keep, int64(q.opts.Retention/time.Second), state,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (q *JobQueue) Ack(ctx context.Context, job *model.QueueJob) error {
	return q.finish(ctx, job, q.doneKey(), q.opts.KeepCompleted, "completed", "")
}

func (q *JobQueue) Fail(ctx context.Context, job *model.QueueJob, reason string) error {
	return q.finish(ctx, job, q.failedKey(), q.opts.KeepFailed, "failed", reason)
}

func (q *JobQueue) Retry(ctx context.Context, job *model.QueueJob, delay time.Duration, reason string) error {
	readyAt := q.now().Add(delay).UnixMilli()
	n, err := luaRetry.Run(ctx, q.cli,
		[]string{q.jobKey(job.ID), q.activeKey(), q.delayedKey()},
		job.ID, job.LeaseToken, readyAt, reason,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func (q *JobQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := luaRemove.Run(ctx, q.cli,
		[]string{q.jobKey(jobID), q.waitKey(), q.delayedKey()},
		jobID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return n == 1, nil
}

func (q *JobQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := luaRequeueExpired.Run(ctx, q.cli,
		[]string{q.activeKey(), q.waitKey()},
		q.jobPrefix(), q.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return n, nil
}

func (q *JobQueue) Stats(ctx context.Context) (model.QueueStats, error) {
	pipe := q.cli.Pipeline()
	wait := pipe.ZCard(ctx, q.waitKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.ZCard(ctx, q.activeKey())
	done := pipe.LLen(ctx, q.doneKey())
	failed := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return model.QueueStats{}, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	s := model.QueueStats{
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: done.Val(),
		Failed:    failed.Val(),
	}
	s.Total = s.Waiting + s.Delayed + s.Active
	return s, nil
}

func (q *JobQueue) Completed(ctx context.Context, limit int) ([]model.JobRecord, error) {
	return q.history(ctx, q.doneKey(), limit)
}

func (q *JobQueue) Failed(ctx context.Context, limit int) ([]model.JobRecord, error) {
	return q.history(ctx, q.failedKey(), limit)
}

func (q *JobQueue) history(ctx context.Context, key string, limit int) ([]model.JobRecord, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := q.cli.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	out := make([]model.JobRecord, 0, len(raw))
	for _, s := range raw {
		var rec model.JobRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
