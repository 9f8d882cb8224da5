package models

import (
	"time"

	"github.com/solwallet/orchestrator/internal/common"
)

// Scope is the depth of a dashboard wallet analysis run (C5).
type Scope string

const (
	ScopeFlash   Scope = "flash"
	ScopeWorking Scope = "working"
	ScopeDeep    Scope = "deep"
)

// FreshnessWindow returns the TTL governing whether a completed run at this
// scope is still fresh enough to suppress a new enqueue.
func (s Scope) FreshnessWindow() time.Duration {
	switch s {
	case ScopeFlash:
		return common.FreshnessFlash
	case ScopeWorking:
		return common.FreshnessWorking
	case ScopeDeep:
		return common.FreshnessDeep
	default:
		return common.FreshnessFlash
	}
}

// Priority resolves the dispatch priority for a dashboard-wallet-analysis
// job at this scope, per §4.2/§4.5: flash->CRITICAL, working->HIGH,
// deep->NORMAL.
func (s Scope) Priority() Priority {
	switch s {
	case ScopeFlash:
		return PriorityCritical
	case ScopeWorking:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Escalates reports whether moving from s to other is a deepening of scope
// (flash -> working -> deep).
func (s Scope) Escalates(other Scope) bool {
	rank := map[Scope]int{ScopeFlash: 0, ScopeWorking: 1, ScopeDeep: 2}
	return rank[other] > rank[s]
}

// ScopeRequest is an inbound request to (re)analyze a wallet at a given scope.
type ScopeRequest struct {
	Wallet            string `json:"wallet"`
	Scope             Scope  `json:"scope"`
	Force             bool   `json:"force"`             // bypass freshness gate
	QueueWorkingAfter bool   `json:"queueWorkingAfter"` // flash only: cascade into a working run on completion
	QueueDeepAfter    bool   `json:"queueDeepAfter"`    // flash or working: cascade into a deep run on completion
}

// FollowUpScopes returns the scopes that will be cascaded once a run at s
// completes, given the request's follow-up flags (§4.5 rule 5). flash may
// cascade into working and/or deep; working may only cascade into deep;
// deep never cascades further.
func FollowUpScopes(s Scope, queueWorkingAfter, queueDeepAfter bool) []Scope {
	var out []Scope
	if s == ScopeFlash && queueWorkingAfter {
		out = append(out, ScopeWorking)
	}
	if queueDeepAfter && s != ScopeDeep {
		out = append(out, ScopeDeep)
	}
	return out
}

// DashboardAnalysisRun tracks the last completed run per (wallet, scope).
type DashboardAnalysisRun struct {
	Wallet      string    `json:"wallet"`
	Scope       Scope     `json:"scope"`
	JobID       string    `json:"jobId"`
	CompletedAt time.Time `json:"completedAt"`
}
