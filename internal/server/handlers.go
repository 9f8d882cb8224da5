package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/solwallet/orchestrator/internal/common"
	"github.com/solwallet/orchestrator/internal/interfaces"
	"github.com/solwallet/orchestrator/internal/models"
)

// dashboardAnalysisRequest is the body of POST /api/dashboard/analysis.
type dashboardAnalysisRequest struct {
	Wallet            string `json:"wallet"`
	Scope             string `json:"scope"`
	Force             bool   `json:"force"`
	QueueWorkingAfter bool   `json:"queueWorkingAfter"`
	QueueDeepAfter    bool   `json:"queueDeepAfter"`
}

func (s *Server) handleDashboardAnalysis(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req dashboardAnalysisRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	scope := models.Scope(req.Scope)
	if scope != models.ScopeFlash && scope != models.ScopeWorking && scope != models.ScopeDeep {
		WriteErrorWithCode(w, http.StatusBadRequest, "scope must be one of flash, working, deep", "invalid-input")
		return
	}

	decision, err := s.app.Scope.RequestAnalysis(r.Context(), models.ScopeRequest{
		Wallet:            req.Wallet,
		Scope:             scope,
		Force:             req.Force,
		QueueWorkingAfter: req.QueueWorkingAfter,
		QueueDeepAfter:    req.QueueDeepAfter,
	})
	if err != nil {
		s.writeDispositionError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, decision)
}

// similarityQueueRequest is the body of POST /api/similarity/queue. The
// natural key for similarity-analysis-flow's single-flight lock is its
// requestId, not any single wallet, since the job spans multiple wallets.
type similarityQueueRequest struct {
	WalletAddresses []string `json:"walletAddresses"`
	VectorType      string   `json:"vectorType"`
}

func (s *Server) handleSimilarityQueue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req similarityQueueRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.WalletAddresses) < 2 {
		WriteErrorWithCode(w, http.StatusBadRequest, "walletAddresses must contain at least 2 addresses", "invalid-input")
		return
	}
	vectorType := req.VectorType
	if vectorType == "" {
		vectorType = "capital"
	}
	if vectorType != "capital" && vectorType != "binary" {
		WriteErrorWithCode(w, http.StatusBadRequest, "vectorType must be one of capital, binary", "invalid-input")
		return
	}

	requestID := time.Now().UTC().Format(time.RFC3339Nano)
	walletAddresses := make([]any, len(req.WalletAddresses))
	for i, w := range req.WalletAddresses {
		walletAddresses[i] = w
	}
	job, err := s.app.Dispatcher.Dispatch(r.Context(), models.KindSimilarityAnalysisFlow, requestID, requestID, map[string]any{
		"walletAddresses": walletAddresses,
		"vectorType":      vectorType,
	}, models.DefaultPriority(models.KindSimilarityAnalysisFlow))
	if err != nil {
		s.writeDispositionError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// tokenBalance is one entry of enrichBalancesRequest.WalletBalances.
type tokenBalance struct {
	Mint      string  `json:"mint"`
	UIBalance float64 `json:"uiBalance"`
}

// walletBalanceSet is the per-wallet payload of enrichBalancesRequest.
type walletBalanceSet struct {
	TokenBalances []tokenBalance `json:"tokenBalances"`
}

// enrichBalancesRequest is the body of POST /api/similarity/enrich-balances.
type enrichBalancesRequest struct {
	WalletBalances map[string]walletBalanceSet `json:"walletBalances"`
}

func (s *Server) handleEnrichBalances(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req enrichBalancesRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.WalletBalances) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, "walletBalances must contain at least one wallet", "invalid-input")
		return
	}

	walletBalances := make(map[string]any, len(req.WalletBalances))
	naturalKey := ""
	for wallet, set := range req.WalletBalances {
		if naturalKey == "" {
			naturalKey = wallet
		}
		balances := make([]any, len(set.TokenBalances))
		for i, tb := range set.TokenBalances {
			balances[i] = map[string]any{"mint": tb.Mint, "uiBalance": tb.UIBalance}
		}
		walletBalances[wallet] = balances
	}

	requestID := time.Now().UTC().Format(time.RFC3339Nano)
	job, err := s.app.Dispatcher.Dispatch(r.Context(), models.KindEnrichTokenBalances, naturalKey, requestID, map[string]any{
		"walletBalances": walletBalances,
	}, models.DefaultPriority(models.KindEnrichTokenBalances))
	if err != nil {
		s.writeDispositionError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// parseTopN parses the optional ?topN= query parameter, defaulting to 10
// and clamping to §6's 1-50 range.
func parseTopN(r *http.Request) int {
	topN := 10
	if raw := r.URL.Query().Get("topN"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			topN = n
		}
	}
	if topN < 1 {
		topN = 1
	}
	if topN > 50 {
		topN = 50
	}
	return topN
}

func (s *Server) handleHolderProfilesToken(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	mint := PathParam(r, "/api/holder-profiles/token/", "")
	if mint == "" {
		WriteError(w, http.StatusBadRequest, "token mint is required")
		return
	}
	topN := parseTopN(r)
	result, ok, err := s.app.HolderProfiles.GetToken(r.Context(), mint, topN)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "no cached profile for token")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleHolderProfilesWallet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	wallet := PathParam(r, "/api/holder-profiles/wallet/", "")
	if wallet == "" {
		WriteError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	result, ok, err := s.app.HolderProfiles.GetWallet(r.Context(), wallet)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "no cached profile for wallet")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// holderProfilesDispatchRequest is the body of POST /api/holder-profiles/analyze,
// routed to analyze-holder-profiles: either a token-mode request ({tokenMint,
// topN?}) or a wallet-mode request ({walletAddress}).
type holderProfilesDispatchRequest struct {
	TokenMint     string `json:"tokenMint"`
	TopN          int    `json:"topN"`
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) handleHolderProfilesAnalyze(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req holderProfilesDispatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	naturalKey := req.TokenMint
	payload := map[string]any{"mode": "token", "tokenMint": req.TokenMint}
	if req.WalletAddress != "" {
		naturalKey = req.WalletAddress
		payload = map[string]any{"mode": "wallet", "walletAddress": req.WalletAddress}
	} else {
		topN := req.TopN
		if topN <= 0 {
			topN = 10
		}
		if topN > 50 {
			topN = 50
		}
		payload["topN"] = topN
	}
	if naturalKey == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "tokenMint or walletAddress is required", "invalid-input")
		return
	}

	requestID := time.Now().UTC().Format(time.RFC3339Nano)
	job, err := s.app.Dispatcher.Dispatch(r.Context(), models.KindAnalyzeHolderProfiles, naturalKey, requestID, payload,
		models.DefaultPriority(models.KindAnalyzeHolderProfiles))
	if err != nil {
		s.writeDispositionError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/api/jobs/", "")
	job, err := s.app.QueueManager.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	id := PathParam(r, "/api/jobs/", "/cancel")
	if err := s.app.QueueManager.Cancel(r.Context(), id); err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleJobProgress reports a progress snapshot derived from the job's
// current record. There is no separate progress-event history store (C7 is
// a fan-out bus, not a log), so this reflects the job's latest known state
// rather than a full event trail — clients wanting the trail subscribe over
// the WebSocket channel instead.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/api/jobs/", "/progress")
	job, err := s.app.QueueManager.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobId":       job.ID,
		"status":      job.Status,
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"startedAt":   job.StartedAt,
		"completedAt": job.CompletedAt,
	})
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := PathParam(r, "/api/jobs/", "/result")
	job, err := s.app.QueueManager.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if job == nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != models.StatusCompleted {
		WriteErrorWithCode(w, http.StatusConflict, "job has not completed", "not-completed")
		return
	}
	WriteJSON(w, http.StatusOK, job.Result)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	name := models.QueueName(PathParam(r, "/api/jobs/queue/", "/stats"))
	stats, err := s.app.QueueManager.Stats(r.Context(), name)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	name := models.QueueName(PathParam(r, "/api/jobs/queue/", "/jobs"))
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "waiting"
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	var (
		jobs []*models.Job
		err  error
	)
	switch status {
	case "waiting":
		jobs, err = s.app.QueueManager.GetWaiting(r.Context(), name, offset, limit)
	case "active":
		jobs, err = s.app.QueueManager.GetActive(r.Context(), name, offset, limit)
	case "completed":
		jobs, err = s.app.QueueManager.GetCompleted(r.Context(), name, offset, limit)
	case "failed":
		jobs, err = s.app.QueueManager.GetFailed(r.Context(), name, offset, limit)
	case "delayed":
		jobs, err = s.app.QueueManager.GetDelayed(r.Context(), name, offset, limit)
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, "status must be one of waiting, active, completed, failed, delayed", "invalid-input")
		return
	}
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"queue": name, "status": status, "jobs": jobs})
}

// handleJobsOverview serves GET /api/jobs: a stats summary across every known
// queue, letting a dashboard render queue health without one request per
// queue.
func (s *Server) handleJobsOverview(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	queues := []models.QueueName{
		models.QueueWalletOperations,
		models.QueueAnalysisOperations,
		models.QueueSimilarityOperations,
		models.QueueEnrichmentOperations,
	}
	overview := make([]interfaces.QueueStats, 0, len(queues))
	for _, q := range queues {
		stats, err := s.app.QueueManager.Stats(r.Context(), q)
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		overview = append(overview, stats)
	}
	WriteJSON(w, http.StatusOK, overview)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.app.Progress.ServeWS(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Broker.Ping(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeDispositionError(w http.ResponseWriter, err error) {
	d := common.ClassifyDisposition(err)
	WriteErrorWithCode(w, DispositionStatus(string(d)), err.Error(), string(d))
}
