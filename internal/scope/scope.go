// Package scope implements the C5 dashboard scope controller: a state
// machine that decides whether an incoming analysis request for a wallet
// should reuse a fresh completed run, join an in-flight one, or enqueue a
// new dashboard-wallet-analysis job — and, when a run completes, enqueues the
// follow-up scopes its request flagged.
package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/dispatcher"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

const runKeyPrefix = "scope:run:"

// Controller implements interfaces.ScopeController.
type Controller struct {
	client      *broker.Client
	dispatcher  *dispatcher.Dispatcher
	lockService interfaces.LockService
}

// New constructs a scope Controller.
func New(client *broker.Client, dispatcher *dispatcher.Dispatcher, lockService interfaces.LockService) *Controller {
	return &Controller{client: client, dispatcher: dispatcher, lockService: lockService}
}

func runKey(wallet string, s models.Scope) string {
	return fmt.Sprintf("%s%s:%s", runKeyPrefix, wallet, s)
}

// lastRun returns the most recently completed run for (wallet, scope), if any.
func (c *Controller) lastRun(ctx context.Context, wallet string, s models.Scope) (*models.DashboardAnalysisRun, error) {
	res, err := c.client.Do(ctx, "scope.last-run", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return rdb.Get(ctx, runKey(wallet, s)).Result()
	})
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scope last-run %s/%s: %w", wallet, s, err)
	}
	var run models.DashboardAnalysisRun
	if err := json.Unmarshal([]byte(res.(string)), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s/%s: %w", wallet, s, err)
	}
	return &run, nil
}

// RecordCompletion stores the result of a finished dashboard-wallet-analysis
// job so later requests at the same scope can be served from
// this run while it remains fresh. Called by the worker handler for
// KindDashboardWalletAnalysis on successful completion.
func (c *Controller) RecordCompletion(ctx context.Context, run models.DashboardAnalysisRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s/%s: %w", run.Wallet, run.Scope, err)
	}
	ttl := run.Scope.FreshnessWindow()
	_, err = c.client.Do(ctx, "scope.record-completion", func(ctx context.Context, rdb *redis.Client) (any, error) {
		return nil, rdb.Set(ctx, runKey(run.Wallet, run.Scope), body, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("scope record-completion %s/%s: %w", run.Wallet, run.Scope, err)
	}
	return nil
}

// RequestAnalysis decides how to satisfy req (§4.5). A fresh completed run
// at the requested scope is reused (the freshness gate reports skipped=true
// and no job is touched) unless req.Force is set. Otherwise a
// dashboard-wallet-analysis job is dispatched at the scope's priority
// (flash=CRITICAL, working=HIGH, deep=NORMAL); the dispatcher's own
// single-flight lock handles the in-flight case, so a second request for a
// wallet already being analyzed joins the same job instead of queuing a
// duplicate. queuedFollowUpScopes echoes which scopes will be cascaded once
// this run completes, per req's queueWorkingAfter/queueDeepAfter flags.
func (c *Controller) RequestAnalysis(ctx context.Context, req models.ScopeRequest) (interfaces.ScopeDecision, error) {
	if !req.Force {
		run, err := c.lastRun(ctx, req.Wallet, req.Scope)
		if err != nil {
			return interfaces.ScopeDecision{}, err
		}
		if run != nil {
			return interfaces.ScopeDecision{
				JobID:      run.JobID,
				Reused:     true,
				Run:        run,
				Skipped:    true,
				SkipReason: fmt.Sprintf("fresh-within-%dm", int(req.Scope.FreshnessWindow().Minutes())),
			}, nil
		}
	}

	followUps := models.FollowUpScopes(req.Scope, req.QueueWorkingAfter, req.QueueDeepAfter)

	requestID := time.Now().UTC().Format(time.RFC3339Nano)
	job, err := c.dispatcher.Dispatch(ctx, models.KindDashboardWalletAnalysis, req.Wallet, requestID, map[string]any{
		"wallet":            req.Wallet,
		"scope":             string(req.Scope),
		"queueWorkingAfter": req.QueueWorkingAfter,
		"queueDeepAfter":    req.QueueDeepAfter,
	}, req.Scope.Priority())
	if err != nil {
		if common.ClassifyDisposition(err) == common.DispositionAlreadyInFlight && job != nil {
			return interfaces.ScopeDecision{JobID: job.ID, Reused: true}, nil
		}
		return interfaces.ScopeDecision{}, err
	}
	return interfaces.ScopeDecision{JobID: job.ID, QueuedFollowUpScopes: followUps}, nil
}

// CompleteRun persists a finished dashboard-wallet-analysis run and cascades
// any requested follow-up scopes (§4.5 rule 5: "the worker completing scope
// X enqueues X+1 after persisting the run, not before"). The triggering
// job's dashboard lock is released here, ahead of the worker pool's own
// post-handler release, because it is scope-agnostic for a wallet and would
// otherwise block a follow-up dispatch for the same wallet at a different
// scope; the pool's later release of the same key is a harmless no-op.
func (c *Controller) CompleteRun(ctx context.Context, job *models.Job, wallet string, s models.Scope, queueWorkingAfter, queueDeepAfter bool) ([]models.Scope, error) {
	if err := c.RecordCompletion(ctx, models.DashboardAnalysisRun{
		Wallet: wallet, Scope: s, JobID: job.ID, CompletedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	if lockKey, ok := models.SingleFlightKey(job.Kind, job.NaturalKey, job.RequestID); ok {
		if _, err := c.lockService.Release(ctx, lockKey, job.ID); err != nil {
			return nil, fmt.Errorf("release dashboard lock for %s: %w", wallet, err)
		}
	}

	followUps := models.FollowUpScopes(s, queueWorkingAfter, queueDeepAfter)
	for _, fs := range followUps {
		requestID := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := c.dispatcher.Dispatch(ctx, models.KindDashboardWalletAnalysis, wallet, requestID, map[string]any{
			"wallet":            wallet,
			"scope":             string(fs),
			"queueWorkingAfter": false,
			"queueDeepAfter":    false,
		}, fs.Priority()); err != nil {
			if common.ClassifyDisposition(err) != common.DispositionAlreadyInFlight {
				return followUps, fmt.Errorf("dispatch follow-up scope %s for %s: %w", fs, wallet, err)
			}
		}
	}
	return followUps, nil
}
