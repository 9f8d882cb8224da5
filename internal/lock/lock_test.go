package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/models"
	"github.com/solwallet/orchestrator/internal/queue"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	return New(client)
}

// newTestJobs returns a QueueManager backed by the same broker client but
// with no jobs ever added, so every owner lookup in a sweep test comes back
// nil — i.e. every lock's owning job is absent, making it orphaned.
func newTestJobs(t *testing.T, mr *miniredis.Miniredis) *queue.Manager {
	t.Helper()
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	return queue.New(client)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	ok, err := s.Acquire(ctx, "wallet-abc", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = s.Acquire(ctx, "wallet-abc", "owner-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire by a different owner to fail, got ok=%v err=%v", ok, err)
	}

	// Same owner re-acquiring is idempotent.
	ok, err = s.Acquire(ctx, "wallet-abc", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected re-acquire by same owner to succeed, got ok=%v err=%v", ok, err)
	}

	released, err := s.Release(ctx, "wallet-abc", "owner-2")
	if err != nil || released {
		t.Fatalf("expected release by non-owner to be a no-op, got released=%v err=%v", released, err)
	}

	released, err = s.Release(ctx, "wallet-abc", "owner-1")
	if err != nil || !released {
		t.Fatalf("expected release by owner to succeed, got released=%v err=%v", released, err)
	}

	ok, err = s.Acquire(ctx, "wallet-abc", "owner-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
	}
}

func TestExtend(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	if _, err := s.Acquire(ctx, "wallet-abc", "owner-1", time.Minute); err != nil {
		t.Fatal(err)
	}

	extended, err := s.Extend(ctx, "wallet-abc", "owner-2", time.Minute)
	if err != nil || extended {
		t.Fatalf("expected extend by non-owner to fail, got extended=%v err=%v", extended, err)
	}

	extended, err = s.Extend(ctx, "wallet-abc", "owner-1", 2*time.Minute)
	if err != nil || !extended {
		t.Fatalf("expected extend by owner to succeed, got extended=%v err=%v", extended, err)
	}
}

func TestSweepClearsOrphans(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	s := New(client)
	jobs := newTestJobs(t, mr)

	if _, err := s.Acquire(ctx, "wallet-a", "owner-1", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(ctx, "wallet-b", "owner-2", time.Minute); err != nil {
		t.Fatal(err)
	}

	// Neither owner-1 nor owner-2 corresponds to a job jobs knows about, so
	// both locks are classified orphaned and swept.
	n, err := s.Sweep(ctx, jobs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 locks swept, got %d", n)
	}

	ok, err := s.Acquire(ctx, "wallet-a", "owner-3", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock to be free after sweep, got ok=%v err=%v", ok, err)
	}
}

func TestSweepPreservesActiveJobLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	s := New(client)
	jobs := newTestJobs(t, mr)

	job := &models.Job{
		ID:          "active-job-1",
		Kind:        models.KindSyncWallet,
		Queue:       models.QueueWalletOperations,
		NaturalKey:  "wallet-a",
		Status:      models.StatusActive,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
	if _, err := jobs.Add(ctx, job); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Acquire(ctx, "wallet-a", job.ID, time.Minute); err != nil {
		t.Fatal(err)
	}

	n, err := s.Sweep(ctx, jobs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected the active job's lock to survive the sweep, got %d swept", n)
	}

	ok, err := s.Acquire(ctx, "wallet-a", "owner-other", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected wallet-a's lock to still be held, got ok=%v err=%v", ok, err)
	}
}
