// Package interfaces defines the contracts between the orchestrator's
// components, following the teacher's pattern of collecting cross-package
// contracts in one place to avoid import cycles between implementations.
package interfaces

import (
	"context"
	"time"

	"github.com/solwallet/orchestrator/internal/models"
)

// QueueManager is the C1 contract: per-queue add/inspect/clean operations
// backed by a Redis ZSET keyed by queue name.
type QueueManager interface {
	Add(ctx context.Context, job *models.Job) (added bool, err error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Dequeue(ctx context.Context, queue models.QueueName) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job, result map[string]any) error
	Fail(ctx context.Context, job *models.Job, cause error, retryable bool) error
	Cancel(ctx context.Context, jobID string) error
	IsPaused(ctx context.Context, queue models.QueueName) (bool, error)
	SetPaused(ctx context.Context, queue models.QueueName, paused bool) error
	Clean(ctx context.Context, queue models.QueueName, olderThan time.Duration) (int, error)
	Stats(ctx context.Context, queue models.QueueName) (QueueStats, error)

	// GetWaiting/Active/Completed/Failed/Delayed page through a queue's jobs
	// in a given lifecycle state (priority-desc/fifo for waiting; recency
	// order otherwise), per §4.1.
	GetWaiting(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error)
	GetActive(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error)
	GetCompleted(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error)
	GetFailed(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error)
	GetDelayed(ctx context.Context, queue models.QueueName, offset, limit int) ([]*models.Job, error)
}

// QueueStats is the C1 observable counter snapshot for a single queue.
type QueueStats struct {
	Queue     models.QueueName `json:"queue"`
	Waiting   int64            `json:"waiting"`
	Active    int64            `json:"active"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Paused    bool             `json:"paused"`
}

// Dispatcher is the C2 contract: validates and routes a request into the
// correct queue, deriving a deterministic job id and acquiring the
// associated single-flight lock before handing off to the queue manager.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind models.JobKind, naturalKey, requestID string, payload map[string]any, priority models.Priority) (*models.Job, error)
}

// LockService is the C4 contract: CAS-style distributed locking scoped to a
// resource key, implemented as Lua scripts on the broker so acquire/extend/
// release are each a single atomic round trip.
type LockService interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
	Check(ctx context.Context, key string) (*models.Lock, error)
	ForceRelease(ctx context.Context, key string) error
	Sweep(ctx context.Context, jobs QueueManager) (int, error)
}

// ScopeController is the C5 contract: decides whether an incoming scope
// request should enqueue a new dashboard-wallet-analysis job, reuse a fresh
// completed run, or join an already in-flight one.
type ScopeController interface {
	RequestAnalysis(ctx context.Context, req models.ScopeRequest) (ScopeDecision, error)
}

// ScopeDecision is the outcome of a ScopeController.RequestAnalysis call.
type ScopeDecision struct {
	JobID                string
	Reused               bool // an existing fresh run or in-flight job was returned instead of enqueuing
	Run                  *models.DashboardAnalysisRun
	Skipped              bool     // suppressed by the freshness gate (§4.5 decision 2); no job was touched
	SkipReason           string   // e.g. "fresh-within-10m"
	QueuedFollowUpScopes []models.Scope
}

// HolderProfilesCache is the C6 contract: read-through cache for token and
// wallet enrichment results, with atomic invalidation of every cache entry
// touched by a given wallet.
type HolderProfilesCache interface {
	GetToken(ctx context.Context, mint string, topN int) (*models.HolderProfilesResult, bool, error)
	GetWallet(ctx context.Context, wallet string) (*models.HolderProfilesResult, bool, error)
	CacheToken(ctx context.Context, mint string, topN int, data map[string]any, ttl time.Duration) error
	CacheWallet(ctx context.Context, wallet string, data map[string]any, ttl time.Duration) error
	InvalidateForWallet(ctx context.Context, wallet string) error
	InvalidateForToken(ctx context.Context, mint string) error
}

// ProgressSink is the publish side of C7, used by the worker pool to report
// job lifecycle transitions without depending on the transport layer.
type ProgressSink interface {
	Publish(ctx context.Context, event models.ProgressEvent) error
}

// ProgressSource is the subscribe side of C7: a channel of events for one
// job id. No type in this module implements it; the WebSocket hub keeps its
// own per-job subscriber sets.
type ProgressSource interface {
	Subscribe(ctx context.Context, jobID string) (<-chan models.ProgressEvent, func(), error)
}
