package common

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// JobID computes the deterministic job id for (kind, naturalKey[, requestID])
// per §9's job-id derivation rule: a pure function of its inputs so that two
// callers deriving a job for the same logical unit of work always agree on
// its id, across processes and restarts.
func JobID(kind, naturalKey, requestID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(kind)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(naturalKey)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(requestID)
	return strconv.FormatUint(h.Sum64(), 16)
}
