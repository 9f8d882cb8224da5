package models

import "time"

// Lock is a distributed single-flight lock held over a resource key,
// identified by an opaque owner token so only the holder can release,
// extend, or be told it still owns it (C4).
type Lock struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	TTL       time.Duration `json:"ttl"`
	AcquiredAt time.Time `json:"acquiredAt"`
}
