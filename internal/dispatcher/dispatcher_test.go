package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/lock"
	"github.com/solwallet/orchestrator/internal/models"
	"github.com/solwallet/orchestrator/internal/queue"
)

const testWallet = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7tJyQw1k2qoKc" // 44 chars, base58

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	return New(queue.New(client), lock.New(client), time.Minute)
}

func TestDispatchRejectsInvalidNaturalKey(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), models.KindSyncWallet, "too-short", "req-1", nil, models.PriorityNormal)
	if err == nil {
		t.Fatal("expected invalid natural key to be rejected")
	}
	if common.ClassifyDisposition(err) != common.DispositionInvalidInput {
		t.Fatalf("expected invalid-input disposition, got %v", common.ClassifyDisposition(err))
	}
}

func TestDispatchIsIdempotentForSameRequest(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	job1, err := d.Dispatch(ctx, models.KindSyncWallet, testWallet, "req-1", nil, models.PriorityNormal)
	if err != nil {
		t.Fatalf("first dispatch should succeed: %v", err)
	}

	_, err = d.Dispatch(ctx, models.KindSyncWallet, testWallet, "req-2", nil, models.PriorityNormal)
	if err == nil {
		t.Fatal("expected second dispatch for the same in-flight wallet to be rejected as already-in-progress")
	}
	if common.ClassifyDisposition(err) != common.DispositionAlreadyInFlight {
		t.Fatalf("expected already-in-progress disposition, got %v", common.ClassifyDisposition(err))
	}

	// A retry with the exact same (kind, naturalKey, requestID) derives the
	// same job id and is allowed to proceed, not rejected as a duplicate.
	lockKey, _ := models.SingleFlightKey(models.KindSyncWallet, testWallet, "req-1")
	if _, err := d.lockService.Release(ctx, lockKey, job1.ID); err != nil {
		t.Fatal(err)
	}
	job2, err := d.Dispatch(ctx, models.KindSyncWallet, testWallet, "req-1", nil, models.PriorityNormal)
	if err != nil {
		t.Fatalf("expected re-dispatch of the same request to succeed once the lock is free: %v", err)
	}
	if job1.ID != job2.ID {
		t.Fatalf("expected identical (kind, naturalKey, requestID) to derive the same job id, got %q and %q", job1.ID, job2.ID)
	}
}
