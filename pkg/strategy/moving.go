package strategy

import (
	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// MovingWindow keeps one counter per epoch bucket and estimates the current
// rate by weighting the previous bucket with the fraction of the window it
// still covers. O(1) storage per key with smoother boundary behavior than
// FixedWindow, trading exactness for cost.
type MovingWindow struct {
	runner
}

// NewMovingWindow creates a moving-window strategy backed by the given
// Redis client.
func NewMovingWindow(rdb *redis.Client, policy BanPolicy) *MovingWindow {
	return &MovingWindow{runner{
		rdb:    rdb,
		policy: policy,
		kind:   keyspace.Moving,
		script: movingScript,
	}}
}
