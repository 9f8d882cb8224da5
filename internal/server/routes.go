package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/dashboard/analysis", s.handleDashboardAnalysis)
	mux.HandleFunc("/api/similarity/queue", s.handleSimilarityQueue)
	mux.HandleFunc("/api/similarity/enrich-balances", s.handleEnrichBalances)
	mux.HandleFunc("/api/holder-profiles/analyze", s.handleHolderProfilesAnalyze)
	mux.HandleFunc("/api/holder-profiles/token/", s.handleHolderProfilesToken)
	mux.HandleFunc("/api/holder-profiles/wallet/", s.handleHolderProfilesWallet)

	mux.HandleFunc("/api/jobs/queue/", s.routeQueueByName) // /api/jobs/queue/{name}/stats, /jobs
	mux.HandleFunc("/api/jobs", s.handleJobsOverview)      // exact match, distinct from /api/jobs/{id} below
	mux.HandleFunc("/api/jobs/", s.routeJobByID)

	mux.HandleFunc("/ws/progress", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
}

// routeJobByID dispatches /api/jobs/{id}, /api/jobs/{id}/cancel,
// /api/jobs/{id}/progress and /api/jobs/{id}/result, since ServeMux has no
// path-parameter support for a shared prefix with several distinct suffixes.
func (s *Server) routeJobByID(w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/cancel"):
		s.handleJobCancel(w, r)
	case hasSuffix(r.URL.Path, "/progress"):
		s.handleJobProgress(w, r)
	case hasSuffix(r.URL.Path, "/result"):
		s.handleJobResult(w, r)
	case r.Method == http.MethodDelete:
		s.handleJobCancel(w, r)
	default:
		s.handleJobGet(w, r)
	}
}

// routeQueueByName dispatches /api/jobs/queue/{name}/stats and
// /api/jobs/queue/{name}/jobs.
func (s *Server) routeQueueByName(w http.ResponseWriter, r *http.Request) {
	if hasSuffix(r.URL.Path, "/jobs") {
		s.handleQueueJobs(w, r)
		return
	}
	s.handleQueueStats(w, r)
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
