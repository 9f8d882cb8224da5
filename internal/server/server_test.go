package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwallet/orchestrator/internal/app"
	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/dispatcher"
	"github.com/solwallet/orchestrator/internal/holderprofiles"
	"github.com/solwallet/orchestrator/internal/lock"
	"github.com/solwallet/orchestrator/internal/progress"
	"github.com/solwallet/orchestrator/internal/queue"
	"github.com/solwallet/orchestrator/internal/scope"
	"github.com/solwallet/orchestrator/internal/worker"
)

const testWallet = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7tJyQw1k2qoKc"

// newTestServer wires a full app.App against an in-process miniredis
// instance, mirroring the teacher's test/api black-box setup but without a
// real network listener.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := common.NewSilentLogger()
	brokerClient := broker.New(mr.Addr(), 0, logger)
	t.Cleanup(func() { brokerClient.Close() })

	cfg := common.NewDefaultConfig()
	queueManager := queue.New(brokerClient)
	lockService := lock.New(brokerClient)
	cache := holderprofiles.New(brokerClient)
	progressHub := progress.NewHub(logger)
	disp := dispatcher.New(queueManager, lockService, cfg.Lock.DefaultTTL)
	scopeController := scope.New(brokerClient, disp, lockService)
	registry := worker.NewRegistry()
	workerPool := worker.New(queueManager, lockService, progressHub, registry, cfg.Queues, logger)

	a := &app.App{
		Config:         cfg,
		Logger:         logger,
		Broker:         brokerClient,
		QueueManager:   queueManager,
		LockService:    lockService,
		Dispatcher:     disp,
		WorkerPool:     workerPool,
		Scope:          scopeController,
		HolderProfiles: cache,
		Progress:       progressHub,
	}

	return NewServer(a).Handler()
}

func TestHealthEndpointReportsOK(t *testing.T) {
	h := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardAnalysisRejectsUnknownScope(t *testing.T) {
	h := newTestServer(t)
	body, err := json.Marshal(map[string]any{"wallet": testWallet, "scope": "bogus"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/dashboard/analysis", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardAnalysisEnqueuesAndJobIsRetrievable(t *testing.T) {
	h := newTestServer(t)
	body, err := json.Marshal(map[string]any{"wallet": testWallet, "scope": "flash"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/dashboard/analysis", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision struct {
		JobID string `json:"JobID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.NotEmpty(t, decision.JobID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/jobs/"+decision.JobID, nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)

	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestJobGetReturnsNotFoundForUnknownID(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
