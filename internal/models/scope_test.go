package models

import "testing"

func TestScopeEscalates(t *testing.T) {
	if !ScopeFlash.Escalates(ScopeWorking) {
		t.Fatal("working should escalate from flash")
	}
	if !ScopeFlash.Escalates(ScopeDeep) {
		t.Fatal("deep should escalate from flash")
	}
	if ScopeDeep.Escalates(ScopeFlash) {
		t.Fatal("flash should not escalate from deep")
	}
	if ScopeWorking.Escalates(ScopeWorking) {
		t.Fatal("same scope is not an escalation")
	}
}

func TestQueueForKind(t *testing.T) {
	cases := map[JobKind]QueueName{
		KindSyncWallet:              QueueWalletOperations,
		KindDashboardWalletAnalysis: QueueAnalysisOperations,
		KindAnalyzePnL:              QueueAnalysisOperations,
		KindAnalyzeBehavior:         QueueAnalysisOperations,
		KindAnalyzeHolderProfiles:   QueueAnalysisOperations,
		KindSimilarityAnalysisFlow:  QueueSimilarityOperations,
		KindEnrichTokenBalances:     QueueEnrichmentOperations,
	}
	for kind, want := range cases {
		if got := QueueForKind(kind); got != want {
			t.Errorf("QueueForKind(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestScopePriority(t *testing.T) {
	cases := map[Scope]Priority{
		ScopeFlash:   PriorityCritical,
		ScopeWorking: PriorityHigh,
		ScopeDeep:    PriorityNormal,
	}
	for s, want := range cases {
		if got := s.Priority(); got != want {
			t.Errorf("Scope(%s).Priority() = %d, want %d", s, got, want)
		}
	}
}

func TestFollowUpScopes(t *testing.T) {
	cases := []struct {
		name              string
		scope             Scope
		queueWorkingAfter bool
		queueDeepAfter    bool
		want              []Scope
	}{
		{"flash cascades both", ScopeFlash, true, true, []Scope{ScopeWorking, ScopeDeep}},
		{"flash working only", ScopeFlash, true, false, []Scope{ScopeWorking}},
		{"flash deep only", ScopeFlash, false, true, []Scope{ScopeDeep}},
		{"flash neither", ScopeFlash, false, false, nil},
		{"working deep only", ScopeWorking, false, true, []Scope{ScopeDeep}},
		{"deep never cascades to itself", ScopeDeep, false, true, nil},
	}
	for _, c := range cases {
		got := FollowUpScopes(c.scope, c.queueWorkingAfter, c.queueDeepAfter)
		if len(got) != len(c.want) {
			t.Errorf("%s: FollowUpScopes(%s, %v, %v) = %v, want %v", c.name, c.scope, c.queueWorkingAfter, c.queueDeepAfter, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("%s: FollowUpScopes(%s, %v, %v) = %v, want %v", c.name, c.scope, c.queueWorkingAfter, c.queueDeepAfter, got, c.want)
				break
			}
		}
	}
}
