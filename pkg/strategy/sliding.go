package strategy

import (
	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// SlidingLog stores one timestamped event per admitted request in a sorted
// set and prunes entries older than the window on every hit. The only
// strategy that enforces the limit exactly over any window position, at the
// cost of one stored entry per request in the window.
type SlidingLog struct {
	runner
}

// NewSlidingLog creates a sliding-log strategy backed by the given Redis
// client.
func NewSlidingLog(rdb *redis.Client, policy BanPolicy) *SlidingLog {
	return &SlidingLog{runner{
		rdb:    rdb,
		policy: policy,
		kind:   keyspace.SlidingLog,
		script: slidingScript,
	}}
}
