package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func newJob(id string, priority models.Priority) *models.Job {
	return &models.Job{
		ID:          id,
		Kind:        models.KindSyncWallet,
		Queue:       models.QueueWalletOperations,
		NaturalKey:  "wallet-" + id,
		Priority:    priority,
		Status:      models.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	job := newJob("job-1", models.PriorityNormal)

	added, err := m.Add(ctx, job)
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got added=%v err=%v", added, err)
	}

	added, err = m.Add(ctx, job)
	if err != nil || added {
		t.Fatalf("expected re-adding the same job id to be a no-op, got added=%v err=%v", added, err)
	}
}

func TestDequeuePriorityOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	low := newJob("low", models.PriorityLow)
	high := newJob("high", models.PriorityHigh)
	if _, err := m.Add(ctx, low); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(ctx, high); err != nil {
		t.Fatal(err)
	}

	job, err := m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != "high" {
		t.Fatalf("expected high-priority job to dequeue first, got %+v", job)
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	job, err := m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("expected nil job from empty queue, got %+v", job)
	}
}

func TestPausedQueueDoesNotDequeue(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	job := newJob("job-1", models.PriorityNormal)
	if _, err := m.Add(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPaused(ctx, models.QueueWalletOperations, true); err != nil {
		t.Fatal(err)
	}

	got, err := m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected paused queue to dequeue nothing, got %+v", got)
	}

	if err := m.SetPaused(ctx, models.QueueWalletOperations, false); err != nil {
		t.Fatal(err)
	}
	got, err = m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected unpaused queue to dequeue the waiting job")
	}
}

func TestFailRetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	job := newJob("job-1", models.PriorityNormal)
	job.MaxAttempts = 2
	if _, err := m.Add(ctx, job); err != nil {
		t.Fatal(err)
	}

	dequeued, err := m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil || dequeued == nil {
		t.Fatalf("expected to dequeue job, err=%v", err)
	}

	if err := m.Fail(ctx, dequeued, errSample, true); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("expected job re-queued after retryable failure within budget, waiting=%d", stats.Waiting)
	}

	dequeued, err = m.Dequeue(ctx, models.QueueWalletOperations)
	if err != nil || dequeued == nil {
		t.Fatalf("expected to dequeue retried job, err=%v", err)
	}
	if err := m.Fail(ctx, dequeued, errSample, true); err != nil {
		t.Fatal(err)
	}

	stats, err = m.Stats(ctx, models.QueueWalletOperations)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Waiting != 0 {
		t.Fatalf("expected job moved to failed once attempts exhausted, got %+v", stats)
	}
}

func TestGetWaitingExcludesRetriedJobs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	fresh := newJob("fresh", models.PriorityNormal)
	retried := newJob("retried", models.PriorityNormal)
	retried.Attempts = 1
	if _, err := m.Add(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(ctx, retried); err != nil {
		t.Fatal(err)
	}

	waiting, err := m.GetWaiting(ctx, models.QueueWalletOperations, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 1 || waiting[0].ID != "fresh" {
		t.Fatalf("expected only the never-attempted job in waiting, got %+v", waiting)
	}

	delayed, err := m.GetDelayed(ctx, models.QueueWalletOperations, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(delayed) != 1 || delayed[0].ID != "retried" {
		t.Fatalf("expected the previously-attempted job in delayed, got %+v", delayed)
	}
}

func TestGetCompletedPagesMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for _, id := range []string{"a", "b", "c"} {
		job := newJob(id, models.PriorityNormal)
		if _, err := m.Add(ctx, job); err != nil {
			t.Fatal(err)
		}
		dequeued, err := m.Dequeue(ctx, models.QueueWalletOperations)
		if err != nil || dequeued == nil {
			t.Fatalf("expected to dequeue %s, err=%v", id, err)
		}
		if err := m.Complete(ctx, dequeued, map[string]any{"id": id}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := m.GetCompleted(ctx, models.QueueWalletOperations, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("expected a 2-item page, got %+v", page)
	}
}

var errSample = &sampleError{"handler timeout"}

type sampleError struct{ msg string }

func (e *sampleError) Error() string { return e.msg }
