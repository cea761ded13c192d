package strategy

import (
	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// FixedWindow counts requests against epoch-aligned windows: the window
// boundary is now - (now mod window), and the counter resets when it
// expires at the boundary. Cheapest of the three strategies, but a burst
// straddling a boundary can admit up to twice the limit.
type FixedWindow struct {
	runner
}

// NewFixedWindow creates a fixed-window strategy backed by the given Redis
// client.
func NewFixedWindow(rdb *redis.Client, policy BanPolicy) *FixedWindow {
	return &FixedWindow{runner{
		rdb:    rdb,
		policy: policy,
		kind:   keyspace.Fixed,
		script: fixedScript,
	}}
}
