package broker

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/lock_acquire.lua
var lockAcquireSrc string

//go:embed scripts/lock_release.lua
var lockReleaseSrc string

//go:embed scripts/lock_extend.lua
var lockExtendSrc string

//go:embed scripts/queue_dequeue.lua
var queueDequeueSrc string

//go:embed scripts/cache_invalidate.lua
var cacheInvalidateSrc string

// Scripts holds every Lua script used to keep a broker operation to a
// single atomic round trip, pre-registered so EVALSHA can be used after
// the first call.
type Scripts struct {
	LockAcquire      *redis.Script
	LockRelease      *redis.Script
	LockExtend       *redis.Script
	QueueDequeue     *redis.Script
	CacheInvalidate  *redis.Script
}

// NewScripts constructs the script registry. Scripts are loaded lazily by
// go-redis on first Run call (EVALSHA with fallback to EVAL).
func NewScripts() *Scripts {
	return &Scripts{
		LockAcquire:     redis.NewScript(lockAcquireSrc),
		LockRelease:     redis.NewScript(lockReleaseSrc),
		LockExtend:      redis.NewScript(lockExtendSrc),
		QueueDequeue:    redis.NewScript(queueDequeueSrc),
		CacheInvalidate: redis.NewScript(cacheInvalidateSrc),
	}
}
