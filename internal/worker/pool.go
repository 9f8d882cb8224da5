// Package worker implements the C3 worker pool: one dequeue loop per queue,
// each bounded by a weighted semaphore, dispatching to a per-kind handler
// and reporting lifecycle transitions to the progress bus.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

// QueueConcurrency is the per-queue worker concurrency table (§4.3).
var QueueConcurrency = map[models.QueueName]int64{
	models.QueueWalletOperations:     3,
	models.QueueAnalysisOperations:   5,
	models.QueueSimilarityOperations: 2,
	models.QueueEnrichmentOperations: 3,
}

// Timeout resolves the per-kind handler timeout from cfg.
func Timeout(cfg common.QueuesConfig, kind models.JobKind) time.Duration {
	switch kind {
	case models.KindSyncWallet:
		return cfg.SyncWalletTimeout
	case models.KindAnalyzePnL:
		return cfg.AnalyzePnLTimeout
	case models.KindAnalyzeBehavior:
		return cfg.AnalyzeBehaviorTimeout
	case models.KindSimilarityAnalysisFlow:
		return cfg.CalculateSimilarityTimeout
	case models.KindEnrichTokenBalances:
		return cfg.EnrichTokenBalancesTimeout
	case models.KindDashboardWalletAnalysis:
		return cfg.DashboardWalletAnalysisTimeout
	case models.KindAnalyzeHolderProfiles:
		return cfg.AnalyzePnLTimeout
	default:
		return 5 * time.Minute
	}
}

// Pool runs one dequeue loop per queue, each gated by its own weighted
// semaphore so a burst of similarity jobs can never starve wallet-sync
// workers of goroutine slots.
type Pool struct {
	queueManager interfaces.QueueManager
	lockService  interfaces.LockService
	progress     interfaces.ProgressSink
	registry     *Registry
	cfg          common.QueuesConfig
	logger       *common.Logger

	sems   map[models.QueueName]*semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a worker Pool.
func New(
	queueManager interfaces.QueueManager,
	lockService interfaces.LockService,
	progress interfaces.ProgressSink,
	registry *Registry,
	cfg common.QueuesConfig,
	logger *common.Logger,
) *Pool {
	sems := make(map[models.QueueName]*semaphore.Weighted, len(QueueConcurrency))
	for q, n := range QueueConcurrency {
		sems[q] = semaphore.NewWeighted(n)
	}
	return &Pool{
		queueManager: queueManager,
		lockService:  lockService,
		progress:     progress,
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
		sems:         sems,
	}
}

// safeGo launches a goroutine with panic recovery, mirroring the teacher's
// safeGo so a handler panic never takes down the whole pool.
func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Start launches one dequeue loop per queue.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for queue := range QueueConcurrency {
		q := queue
		p.safeGo("queue-loop-"+string(q), func() { p.queueLoop(ctx, q) })
	}
	p.logger.Info().Msg("worker pool started")
}

// Stop cancels every loop and waits for in-flight jobs to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) queueLoop(ctx context.Context, queue models.QueueName) {
	sem := p.sems[queue]
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queueManager.Dequeue(ctx, queue)
		if err != nil {
			p.logger.Warn().Err(err).Str("queue", string(queue)).Msg("dequeue error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return // context cancelled
		}

		j := job
		p.safeGo("execute-"+j.ID, func() {
			defer sem.Release(1)
			p.execute(ctx, queue, j)
		})
	}
}

func (p *Pool) execute(ctx context.Context, queue models.QueueName, job *models.Job) {
	handler := p.registry.Lookup(job.Kind)
	if handler == nil {
		p.fail(ctx, job, fmt.Errorf("no handler registered for kind %q", job.Kind), false)
		return
	}

	_ = p.progress.Publish(ctx, models.ProgressEvent{
		Type: models.ProgressEventActive, JobID: job.ID, Kind: job.Kind, Queue: queue, Timestamp: time.Now(),
	})

	timeout := Timeout(p.cfg, job.Kind)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := handler(execCtx, job)

	if err != nil {
		// Every handler error is retried while attempts remain; only a
		// missing handler (above) fails the job outright.
		retryable := true
		if !willRetry(job, retryable) {
			// Terminal failure: release the lock before the job is marked
			// failed (§4.3 point 6), same as the success path below.
			p.releaseLock(ctx, job)
		}
		p.fail(ctx, job, err, retryable)
		return
	}

	// Success is always a terminal transition: release before Complete.
	p.releaseLock(ctx, job)

	if err := p.queueManager.Complete(ctx, job, result); err != nil {
		p.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to mark job complete")
		return
	}
	_ = p.progress.Publish(ctx, models.ProgressEvent{
		Type: models.ProgressEventCompleted, JobID: job.ID, Kind: job.Kind, Queue: queue, Result: result, Timestamp: time.Now(),
	})
}

// willRetry reports whether a job will be re-enqueued for another attempt
// rather than moved to a terminal failed state, mirroring the budget check
// queue.Manager.Fail applies when persisting the failure.
func willRetry(job *models.Job, retryable bool) bool {
	return retryable && job.Attempts+1 < job.MaxAttempts
}

// releaseLock drops job's single-flight lock, if its kind takes one.
// Callers must only invoke this when the job is about to transition to a
// terminal state (§4.3 point 6) — never on a retry that leaves it active.
func (p *Pool) releaseLock(ctx context.Context, job *models.Job) {
	lockKey, ok := models.SingleFlightKey(job.Kind, job.NaturalKey, job.RequestID)
	if !ok {
		return
	}
	if _, relErr := p.lockService.Release(ctx, lockKey, job.ID); relErr != nil {
		p.logger.Warn().Err(relErr).Str("jobId", job.ID).Msg("failed to release job lock")
	}
}

func (p *Pool) fail(ctx context.Context, job *models.Job, cause error, retryable bool) {
	retry := willRetry(job, retryable)
	if retry {
		// Advance the policy once per prior attempt so the delay grows with
		// each retry instead of restarting from the base interval.
		backOff := backoffFor(job.Kind)
		delay := backOff.NextBackOff()
		for i := 0; i < job.Attempts; i++ {
			delay = backOff.NextBackOff()
		}
		if delay != backoff.Stop {
			time.Sleep(delay)
		}
	}

	if err := p.queueManager.Fail(ctx, job, cause, retryable); err != nil {
		p.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to record job failure")
	}

	if retry {
		// Not a terminal transition: the job remains retryable, so no
		// failed event is published (§7, §8 property 8).
		return
	}

	_ = p.progress.Publish(ctx, models.ProgressEvent{
		Type: models.ProgressEventFailed, JobID: job.ID, Kind: job.Kind, Queue: job.Queue, Error: cause.Error(), Timestamp: time.Now(),
	})
}

// backoffFor returns a fresh backoff policy for kind's queue: a fixed 2s
// delay for enrichment-operations, and base×2^(n-1) for the others, with a
// 2s base on wallet-operations and 3s on analysis- and similarity-operations.
func backoffFor(kind models.JobKind) backoff.BackOff {
	queue := models.QueueForKind(kind)
	if queue == models.QueueEnrichmentOperations {
		return backoff.NewConstantBackOff(2 * time.Second)
	}
	base := 3 * time.Second
	if queue == models.QueueWalletOperations {
		base = 2 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // caller bounds retries via MaxAttempts, not elapsed time
	b.Reset()
	return b
}
