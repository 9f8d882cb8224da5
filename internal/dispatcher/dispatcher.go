// Package dispatcher implements the C2 job dispatcher: validates an inbound
// request, derives its deterministic job id, acquires the request's
// single-flight lock, and hands it to the queue manager.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

const (
	minAddressLen = 32
	maxAddressLen = 44
)

// base58Alphabet matches Bitcoin/Solana base58 (no 0, O, I, l).
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Dispatcher implements interfaces.Dispatcher.
type Dispatcher struct {
	queueManager interfaces.QueueManager
	lockService  interfaces.LockService
	lockTTL      time.Duration
}

// New constructs a Dispatcher.
func New(queueManager interfaces.QueueManager, lockService interfaces.LockService, lockTTL time.Duration) *Dispatcher {
	return &Dispatcher{queueManager: queueManager, lockService: lockService, lockTTL: lockTTL}
}

// Dispatch validates payload, derives the job's deterministic id from
// (kind, naturalKey, requestID), and enqueues it after acquiring the kind's
// single-flight lock (§4.2's routing table). Kinds with no single-flight key
// (enrich-token-balances, analyze-holder-profiles) skip locking entirely. If
// the lock is already held, the caller is told the equivalent job is already
// in progress rather than silently queuing a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, kind models.JobKind, naturalKey, requestID string, payload map[string]any, priority models.Priority) (*models.Job, error) {
	if requiresAddressNaturalKey(kind) {
		if err := validateNaturalKey(naturalKey); err != nil {
			return nil, common.NewDispositionError(common.DispositionInvalidInput, err)
		}
	}

	jobID := common.JobID(string(kind), naturalKey, requestID)

	lockKey, needsLock := models.SingleFlightKey(kind, naturalKey, requestID)
	if needsLock {
		acquired, err := d.lockService.Acquire(ctx, lockKey, jobID, d.lockTTL)
		if err != nil {
			return nil, common.NewDispositionError(common.DispositionInfraUnavailable, err)
		}
		if !acquired {
			holder, checkErr := d.lockService.Check(ctx, lockKey)
			if checkErr == nil && holder != nil && holder.Owner != jobID {
				if existing, getErr := d.queueManager.Get(ctx, holder.Owner); getErr == nil && existing != nil && !existing.IsTerminal() {
					return existing, common.NewDispositionError(common.DispositionAlreadyInFlight,
						fmt.Errorf("job for %q already in progress", naturalKey))
				}
			}
			return nil, common.NewDispositionError(common.DispositionAlreadyInFlight,
				fmt.Errorf("lock held for %q", naturalKey))
		}
	}

	job := &models.Job{
		ID:          jobID,
		Kind:        kind,
		Queue:       models.QueueForKind(kind),
		NaturalKey:  naturalKey,
		RequestID:   requestID,
		Payload:     payload,
		Priority:    priority,
		Status:      models.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}

	if _, err := d.queueManager.Add(ctx, job); err != nil {
		if needsLock {
			_, _ = d.lockService.Release(ctx, lockKey, jobID)
		}
		return nil, common.NewDispositionError(common.DispositionInfraUnavailable, err)
	}

	return job, nil
}

// requiresAddressNaturalKey reports whether kind's natural key must be a
// single base58 Solana address. similarity-analysis-flow's natural key is a
// composite of multiple wallet addresses and is validated separately by the
// HTTP layer (cardinality, not shape).
func requiresAddressNaturalKey(kind models.JobKind) bool {
	return kind != models.KindSimilarityAnalysisFlow
}

func validateNaturalKey(key string) error {
	if len(key) < minAddressLen || len(key) > maxAddressLen {
		return fmt.Errorf("natural key %q must be %d-%d characters, got %d", key, minAddressLen, maxAddressLen, len(key))
	}
	for _, r := range key {
		found := false
		for _, a := range base58Alphabet {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("natural key %q contains non-base58 character %q", key, r)
		}
	}
	return nil
}
