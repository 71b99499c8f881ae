// Package queue capture 任务队列适配层，基于 Redis。
// jobId 冲突即去重：同一订单的 capture 任务天然只会排一份。
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/orderedit/pkg/logger"
)

// JobState capture 任务状态
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateMissing   JobState = "missing"
)

// CaptureJob capture 任务载荷
type CaptureJob struct {
	JobID           string `json:"jobId"`
	OrderID         string `json:"orderId"`
	AuthorizationID string `json:"authorizationId"`
	ScheduledAt     int64  `json:"scheduledAt"`
	Source          string `json:"source,omitempty"`
}

// CaptureJobID 按订单派生稳定任务 ID
func CaptureJobID(orderID string) string {
	return "capture-" + orderID
}

// CaptureQueue Redis 队列适配器
type CaptureQueue struct {
	rdb    *redis.Client
	prefix string
	log    *logger.Logger
}

func NewCaptureQueue(rdb *redis.Client, prefix string, log *logger.Logger) *CaptureQueue {
	if prefix == "" {
		prefix = "capture:"
	}
	return &CaptureQueue{rdb: rdb, prefix: prefix, log: log}
}

func (q *CaptureQueue) jobKey(jobID string) string   { return q.prefix + "job:" + jobID }
func (q *CaptureQueue) stateKey(jobID string) string { return q.prefix + "state:" + jobID }
func (q *CaptureQueue) waitingKey() string           { return q.prefix + "waiting" }
func (q *CaptureQueue) delayedKey() string           { return q.prefix + "delayed" }

// Ping 队列可达性检查，对账任务在队列不可达时必须放弃本轮
func (q *CaptureQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue 提交任务。jobID 已存在时静默去重，返回 added=false。
// delay > 0 时进入 delayed 集合，否则直接进 waiting 队列。
func (q *CaptureQueue) Enqueue(ctx context.Context, job *CaptureJob, delay time.Duration) (added bool, err error) {
	if job.JobID == "" {
		job.JobID = CaptureJobID(job.OrderID)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal capture job: %w", err)
	}

	set, err := q.rdb.SetNX(ctx, q.jobKey(job.JobID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue capture job: %w", err)
	}
	if !set {
		state, err := q.GetState(ctx, job.JobID)
		if err != nil {
			return false, err
		}
		// 已完成的任务可被重新排队（completed 但授权仍未 capture 的窄竞态）；
		// 其余状态 jobId 冲突即去重。
		if state != StateCompleted && state != StateMissing {
			return false, nil
		}
		if err := q.rdb.Set(ctx, q.jobKey(job.JobID), data, 0).Err(); err != nil {
			return false, fmt.Errorf("enqueue capture job: %w", err)
		}
	}

	if delay > 0 {
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: score, Member: job.JobID}).Err(); err != nil {
			return false, fmt.Errorf("schedule capture job: %w", err)
		}
		if err := q.rdb.Set(ctx, q.stateKey(job.JobID), string(StateDelayed), 0).Err(); err != nil {
			return false, fmt.Errorf("set job state: %w", err)
		}
		return true, nil
	}

	if err := q.rdb.LPush(ctx, q.waitingKey(), job.JobID).Err(); err != nil {
		return false, fmt.Errorf("enqueue capture job: %w", err)
	}
	if err := q.rdb.Set(ctx, q.stateKey(job.JobID), string(StateWaiting), 0).Err(); err != nil {
		return false, fmt.Errorf("set job state: %w", err)
	}
	return true, nil
}

// GetState 查询任务状态，不存在返回 missing
func (q *CaptureQueue) GetState(ctx context.Context, jobID string) (JobState, error) {
	state, err := q.rdb.Get(ctx, q.stateKey(jobID)).Result()
	if err == redis.Nil {
		return StateMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("get job state: %w", err)
	}
	return JobState(state), nil
}

// GetJob 读取任务载荷
func (q *CaptureQueue) GetJob(ctx context.Context, jobID string) (*CaptureJob, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capture job: %w", err)
	}
	var job CaptureJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal capture job: %w", err)
	}
	return &job, nil
}

// SetState 由 worker 侧更新状态（active/completed/failed）
func (q *CaptureQueue) SetState(ctx context.Context, jobID string, state JobState) error {
	if err := q.rdb.Set(ctx, q.stateKey(jobID), string(state), 0).Err(); err != nil {
		return fmt.Errorf("set job state: %w", err)
	}
	return nil
}

// Remove 撤下排队中的任务。任务本就不存在时视为成功；
// 返回错误表示无法确认任务已停止，调用方不得继续取消订单。
func (q *CaptureQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	pipe.LRem(ctx, q.waitingKey(), 0, jobID)
	pipe.Del(ctx, q.jobKey(jobID), q.stateKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove capture job: %w", err)
	}
	return nil
}
