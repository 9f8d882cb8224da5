// Package queue implements the C1 queue manager: four named priority
// queues backed by a Redis ZSET per queue, with each job body stored as a
// JSON string under its own key so the ZSET itself stays small and cheap
// to scan.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

const (
	jobHashPrefix   = "jobs:"        // jobs:{id} -> JSON job body
	waitingKeyFmt   = "queue:%s:waiting"
	activeKeyFmt    = "queue:%s:active"
	pausedKeyFmt    = "queue:%s:paused"
	completedKeyFmt = "queue:%s:completed"
	failedKeyFmt    = "queue:%s:failed"
)

// Manager implements interfaces.QueueManager.
type Manager struct {
	client *broker.Client
}

// New constructs a queue Manager.
func New(client *broker.Client) *Manager {
	return &Manager{client: client}
}

func jobKey(id string) string        { return jobHashPrefix + id }
func waitingKey(q models.QueueName) string   { return fmt.Sprintf(waitingKeyFmt, q) }
func activeKey(q models.QueueName) string    { return fmt.Sprintf(activeKeyFmt, q) }
func pausedKey(q models.QueueName) string    { return fmt.Sprintf(pausedKeyFmt, q) }
func completedKey(q models.QueueName) string { return fmt.Sprintf(completedKeyFmt, q) }
func failedKey(q models.QueueName) string    { return fmt.Sprintf(failedKeyFmt, q) }

// score encodes (priority, enqueue time) into a single ZSET score so that
// ZPOPMAX claims the highest-priority job first, and within a priority tier,
// earlier jobs (smaller enqueuedAt) win out (FIFO), since subtracting a
// later timestamp yields a smaller score.
func score(priority models.Priority, enqueuedAt time.Time) float64 {
	return float64(priority)*1e13 - float64(enqueuedAt.UnixMilli())
}

// Add stores the job body and pushes it onto its queue's waiting ZSET. If a
// job with the same id already exists and is not terminal, nothing is
// written and Add reports false, so re-dispatching the same deterministic id
// is a no-op; a terminal job with that id is enqueued again as a new attempt.
func (m *Manager) Add(ctx context.Context, job *models.Job) (bool, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	res, err := m.client.Do(ctx, "queue.add", func(ctx context.Context, rdb *redis.Client) (any, error) {
		existing, err := rdb.Get(ctx, jobKey(job.ID)).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		if err == nil {
			var prior models.Job
			if json.Unmarshal([]byte(existing), &prior) == nil && !prior.IsTerminal() {
				return int64(0), nil
			}
		}
		added, err := rdb.ZAddNX(ctx, waitingKey(job.Queue), redis.Z{
			Score:  score(job.Priority, job.CreatedAt),
			Member: job.ID,
		}).Result()
		if err != nil {
			return nil, err
		}
		if err := rdb.Set(ctx, jobKey(job.ID), body, 0).Err(); err != nil {
			return nil, err
		}
		return added, nil
	})
	if err != nil {
		return false, fmt.Errorf("queue add %s: %w", job.ID, err)
	}
	return res.(int64) > 0, nil
}

// Get fetches a job's current body by id.
func (m *Manager) Get(ctx context.Context, jobID string) (*models.Job, error) {
	res, err := m.client.Do(ctx, "queue.get", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Get(ctx, jobKey(jobID)).Result()
	})
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue get %s: %w", jobID, err)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(res.(string)), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Dequeue atomically claims the next job for queue, moving it from waiting
// to active, or returns nil if the queue is empty or paused.
func (m *Manager) Dequeue(ctx context.Context, queue models.QueueName) (*models.Job, error) {
	res, err := m.client.EvalScript(ctx, "queue.dequeue", m.client.Scripts.QueueDequeue,
		[]string{waitingKey(queue), activeKey(queue), pausedKey(queue)})
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue dequeue %s: %w", queue, err)
	}
	jobID, _ := res.(string)
	if jobID == "" {
		return nil, nil
	}
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		now := time.Now()
		job.Status = models.StatusActive
		job.StartedAt = &now
		if err := m.save(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (m *Manager) save(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = m.client.Do(ctx, "queue.save", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return nil, rdb.Set(ctx, jobKey(job.ID), body, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("queue save %s: %w", job.ID, err)
	}
	return nil
}

// Complete marks job as completed with result and removes it from the
// active set.
func (m *Manager) Complete(ctx context.Context, job *models.Job, result map[string]any) error {
	now := time.Now()
	job.Status = models.StatusCompleted
	job.Result = result
	job.CompletedAt = &now
	if err := m.save(ctx, job); err != nil {
		return err
	}
	_, err := m.client.Do(ctx, "queue.complete", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		pipe.SRem(ctx, activeKey(job.Queue), job.ID)
		pipe.ZAdd(ctx, completedKey(job.Queue), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("queue complete %s: %w", job.ID, err)
	}
	return nil
}

// Fail records a job failure. If retryable and attempts remain, the job is
// re-enqueued at the back of its priority tier; otherwise it is moved to
// the terminal failed state.
func (m *Manager) Fail(ctx context.Context, job *models.Job, cause error, retryable bool) error {
	job.Attempts++
	job.Error = cause.Error()

	if retryable && job.Attempts < job.MaxAttempts {
		job.Status = models.StatusPending
		if err := m.save(ctx, job); err != nil {
			return err
		}
		_, err := m.client.Do(ctx, "queue.retry", func(ctx context.Context, rdb *redis.Client) (any, error) {
			pipe := rdb.TxPipeline()
			pipe.SRem(ctx, activeKey(job.Queue), job.ID)
			pipe.ZAdd(ctx, waitingKey(job.Queue), redis.Z{
				Score:  score(job.Priority, time.Now()),
				Member: job.ID,
			})
			_, err := pipe.Exec(ctx)
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("queue retry %s: %w", job.ID, err)
		}
		return nil
	}

	now := time.Now()
	job.Status = models.StatusFailed
	job.CompletedAt = &now
	if err := m.save(ctx, job); err != nil {
		return err
	}
	_, err := m.client.Do(ctx, "queue.fail", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		pipe.SRem(ctx, activeKey(job.Queue), job.ID)
		pipe.ZAdd(ctx, failedKey(job.Queue), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("queue fail %s: %w", job.ID, err)
	}
	return nil
}

// Cancel marks a pending or active job cancelled and removes it from every
// set it might be queued in.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	if job.IsTerminal() {
		return nil
	}
	job.Status = models.StatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	if err := m.save(ctx, job); err != nil {
		return err
	}
	_, err = m.client.Do(ctx, "queue.cancel", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		pipe.ZRem(ctx, waitingKey(job.Queue), jobID)
		pipe.SRem(ctx, activeKey(job.Queue), jobID)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("queue cancel %s: %w", jobID, err)
	}
	return nil
}

// IsPaused reports whether queue is currently paused.
func (m *Manager) IsPaused(ctx context.Context, queue models.QueueName) (bool, error) {
	res, err := m.client.Do(ctx, "queue.is-paused", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Exists(ctx, pausedKey(queue)).Result()
	})
	if err != nil {
		return false, fmt.Errorf("queue is-paused %s: %w", queue, err)
	}
	return res.(int64) == 1, nil
}

// SetPaused pauses or resumes queue. A paused queue stops dequeuing but
// continues to accept Add calls.
func (m *Manager) SetPaused(ctx context.Context, queue models.QueueName, paused bool) error {
	_, err := m.client.Do(ctx, "queue.set-paused", func(ctx context.Context, rdb *redis.Client) (any, error) {
		if paused {
			return nil, rdb.Set(ctx, pausedKey(queue), "1", 0).Err()
		}
		return nil, rdb.Del(ctx, pausedKey(queue)).Err()
	})
	if err != nil {
		return fmt.Errorf("queue set-paused %s: %w", queue, err)
	}
	return nil
}

// Clean removes completed/failed job ids older than olderThan from their
// bookkeeping ZSETs. The job bodies under jobs:{id} are left in place; they
// are stored without a TTL.
func (m *Manager) Clean(ctx context.Context, queue models.QueueName, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := m.client.Do(ctx, "queue.clean", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		completedCmd := pipe.ZRemRangeByScore(ctx, completedKey(queue), "-inf", fmt.Sprintf("%d", cutoff))
		failedCmd := pipe.ZRemRangeByScore(ctx, failedKey(queue), "-inf", fmt.Sprintf("%d", cutoff))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return completedCmd.Val() + failedCmd.Val(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue clean %s: %w", queue, err)
	}
	return int(res.(int64)), nil
}

// Stats reports the observable counters for queue.
func (m *Manager) Stats(ctx context.Context, queue models.QueueName) (interfaces.QueueStats, error) {
	res, err := m.client.Do(ctx, "queue.stats", func(ctx context.Context, rdb *redis.Client) (any, error) {
		pipe := rdb.TxPipeline()
		waiting := pipe.ZCard(ctx, waitingKey(queue))
		active := pipe.SCard(ctx, activeKey(queue))
		completed := pipe.ZCard(ctx, completedKey(queue))
		failed := pipe.ZCard(ctx, failedKey(queue))
		paused := pipe.Exists(ctx, pausedKey(queue))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return interfaces.QueueStats{
			Queue:     queue,
			Waiting:   waiting.Val(),
			Active:    active.Val(),
			Completed: completed.Val(),
			Failed:    failed.Val(),
			Paused:    paused.Val() == 1,
		}, nil
	})
	if err != nil {
		return interfaces.QueueStats{}, fmt.Errorf("queue stats %s: %w", queue, err)
	}
	return res.(interfaces.QueueStats), nil
}

// hydrate loads each id's job body, skipping any that vanished between the
// id listing and this call (e.g. cleaned up concurrently).
func (m *Manager) hydrate(ctx context.Context, ids []string) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// paginate slices jobs by offset/limit, clamping to the available range. A
// non-positive limit returns everything from offset onward.
func paginate(jobs []*models.Job, offset, limit int) []*models.Job {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(jobs) {
		return []*models.Job{}
	}
	end := len(jobs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return jobs[offset:end]
}

// idsByScoreDesc ranges a ZSET's members from highest to lowest score,
// applying offset/limit at the Redis level.
func (m *Manager) idsByScoreDesc(ctx context.Context, key string, offset, limit int) ([]string, error) {
	start := int64(offset)
	if start < 0 {
		start = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	res, err := m.client.Do(ctx, "queue.range", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.ZRevRange(ctx, key, start, stop).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("queue range %s: %w", key, err)
	}
	ids, _ := res.([]string)
	return ids, nil
}

// GetWaiting pages through jobs sitting in the waiting ZSET that have never
// been attempted, in the same priority-desc/fifo order Dequeue would claim
// them in.
func (m *Manager) GetWaiting(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error) {
	waiting, err := m.waitingByAttempts(ctx, queue, false)
	if err != nil {
		return nil, err
	}
	return paginate(waiting, offset, limit), nil
}

// GetDelayed pages through jobs in the waiting ZSET that have already been
// attempted at least once and are awaiting their next retry. This
// implementation re-enqueues a retry directly into the waiting ZSET rather
// than a separate delayed set, so "delayed" is modeled as Attempts>0 within
// that same ZSET.
func (m *Manager) GetDelayed(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error) {
	delayed, err := m.waitingByAttempts(ctx, queue, true)
	if err != nil {
		return nil, err
	}
	return paginate(delayed, offset, limit), nil
}

func (m *Manager) waitingByAttempts(ctx context.Context, queue models.QueueName, attempted bool) ([]*models.Job, error) {
	res, err := m.client.Do(ctx, "queue.waiting-ids", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.ZRevRange(ctx, waitingKey(queue), 0, -1).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("queue waiting-ids %s: %w", queue, err)
	}
	ids, _ := res.([]string)
	all, err := m.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	filtered := make([]*models.Job, 0, len(all))
	for _, job := range all {
		if (job.Attempts > 0) == attempted {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

// GetActive pages through jobs currently claimed by a worker, most recently
// claimed first.
func (m *Manager) GetActive(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error) {
	res, err := m.client.Do(ctx, "queue.active-ids", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.SMembers(ctx, activeKey(queue)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("queue active-ids %s: %w", queue, err)
	}
	ids, _ := res.([]string)
	jobs, err := m.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i].StartedAt, jobs[j].StartedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	return paginate(jobs, offset, limit), nil
}

// GetCompleted pages through completed jobs, most recently completed first.
func (m *Manager) GetCompleted(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error) {
	ids, err := m.idsByScoreDesc(ctx, completedKey(queue), offset, limit)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, ids)
}

// GetFailed pages through terminally failed jobs, most recently failed first.
func (m *Manager) GetFailed(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error) {
	ids, err := m.idsByScoreDesc(ctx, failedKey(queue), offset, limit)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, ids)
}
