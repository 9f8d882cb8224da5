package scope

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/dispatcher"
	"github.com/solwallet/orchestrator/internal/lock"
	"github.com/solwallet/orchestrator/internal/models"
	"github.com/solwallet/orchestrator/internal/queue"
)

const testWallet = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7tJyQw1k2qoKc"

func newTestController(t *testing.T) *Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	lockService := lock.New(client)
	d := dispatcher.New(queue.New(client), lockService, time.Minute)
	return New(client, d, lockService)
}

func TestRequestAnalysisEnqueuesWhenNoFreshRun(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	decision, err := c.RequestAnalysis(ctx, models.ScopeRequest{Wallet: testWallet, Scope: models.ScopeFlash})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Reused || decision.JobID == "" {
		t.Fatalf("expected a freshly enqueued job, got %+v", decision)
	}
}

func TestRequestAnalysisReusesFreshRun(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	if err := c.RecordCompletion(ctx, models.DashboardAnalysisRun{
		Wallet: testWallet, Scope: models.ScopeFlash, JobID: "prior-job", CompletedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	decision, err := c.RequestAnalysis(ctx, models.ScopeRequest{Wallet: testWallet, Scope: models.ScopeFlash})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Reused || decision.JobID != "prior-job" {
		t.Fatalf("expected the fresh prior run to be reused, got %+v", decision)
	}
}

func TestRequestAnalysisForceBypassesFreshness(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	if err := c.RecordCompletion(ctx, models.DashboardAnalysisRun{
		Wallet: testWallet, Scope: models.ScopeFlash, JobID: "prior-job", CompletedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	decision, err := c.RequestAnalysis(ctx, models.ScopeRequest{Wallet: testWallet, Scope: models.ScopeFlash, Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Reused {
		t.Fatalf("expected force=true to bypass the fresh run and enqueue, got %+v", decision)
	}
}
