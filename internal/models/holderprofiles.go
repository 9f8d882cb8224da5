package models

import "time"

// HolderProfilesResult is the cached enrichment result for a single token or
// wallet, keyed separately by kind so a token invalidation never clears
// wallet entries; a wallet invalidation also clears the token entries
// indexed under that wallet (C6).
type HolderProfilesResult struct {
	Key       string         `json:"key"` // full cache key of this entry
	Data      map[string]any `json:"data"`
	CachedAt  time.Time      `json:"cachedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}
