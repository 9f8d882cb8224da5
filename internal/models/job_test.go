package models

import "testing"

func TestJobIsTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:   false,
		StatusActive:    false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for status, want := range cases {
		job := &Job{Status: status}
		if got := job.IsTerminal(); got != want {
			t.Errorf("Job{Status: %s}.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestDefaultPriority(t *testing.T) {
	// KindDashboardWalletAnalysis's priority is resolved from its scope
	// (see Scope.Priority), not this kind-only default table.
	cases := map[JobKind]Priority{
		KindSyncWallet:             PriorityNormal,
		KindEnrichTokenBalances:    PriorityLow,
		KindAnalyzePnL:             PriorityNormal,
		KindSimilarityAnalysisFlow: PriorityNormal,
		KindAnalyzeHolderProfiles:  PriorityNormal,
	}
	for kind, want := range cases {
		if got := DefaultPriority(kind); got != want {
			t.Errorf("DefaultPriority(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestSingleFlightKey(t *testing.T) {
	cases := []struct {
		kind       JobKind
		naturalKey string
		requestID  string
		wantKey    string
		wantOK     bool
	}{
		{KindSyncWallet, "wallet-1", "req-1", "wallet:sync:wallet-1", true},
		{KindAnalyzePnL, "wallet-1", "req-1", "wallet:pnl:wallet-1", true},
		{KindAnalyzeBehavior, "wallet-1", "req-1", "wallet:behavior:wallet-1", true},
		{KindDashboardWalletAnalysis, "wallet-1", "req-1", "wallet:dashboard-analysis:wallet-1", true},
		{KindSimilarityAnalysisFlow, "wallet-1", "req-7", "similarity:req-7", true},
		{KindEnrichTokenBalances, "wallet-1", "req-1", "", false},
		{KindAnalyzeHolderProfiles, "mint-1", "req-1", "", false},
	}
	for _, c := range cases {
		key, ok := SingleFlightKey(c.kind, c.naturalKey, c.requestID)
		if key != c.wantKey || ok != c.wantOK {
			t.Errorf("SingleFlightKey(%s, ...) = (%q, %v), want (%q, %v)", c.kind, key, ok, c.wantKey, c.wantOK)
		}
	}
}
