package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// Prometheus metrics for hit operations.
var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_hits_total",
		Help: "Total hit operations by strategy and outcome",
	}, []string{"strategy", "outcome"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_store_errors_total",
		Help: "Total failed Redis round-trips by strategy",
	}, []string{"strategy"})

	hitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ratelimit_hit_duration_seconds",
		Help:    "Duration of the atomic hit round-trip by strategy",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"strategy"})
)

// Hit outcomes for metrics.
const (
	outcomeAllowed = "allowed"
	outcomeLimited = "limited"
	outcomeBanned  = "banned"
)

// runner executes one strategy's script with the shared key derivation,
// reply parsing, metrics and logging. Embedded by all three strategies.
type runner struct {
	rdb    *redis.Client
	policy BanPolicy
	kind   keyspace.Kind
	script *redis.Script
}

func (r runner) Kind() keyspace.Kind {
	return r.kind
}

// Hit runs the strategy's Lua script as one atomic transaction.
func (r runner) Hit(ctx context.Context, identifier string, limit, window uint) (Result, error) {
	counterKey := keyspace.CounterKey(identifier, r.kind, limit, window)
	banKey := keyspace.BanKey(identifier, r.kind, limit, window, r.policy.SiteWide)
	metaKey := keyspace.MetaKey(counterKey)

	start := time.Now()
	raw, err := r.script.Run(ctx, r.rdb,
		[]string{counterKey, banKey, metaKey},
		limit, window,
		r.policy.Threshold, r.policy.InitialBan, r.policy.MaxBan, r.policy.DecayWindow,
	).Result()
	hitDuration.WithLabelValues(string(r.kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		storeErrorsTotal.WithLabelValues(string(r.kind)).Inc()
		log.Error().
			Err(err).
			Str("strategy", string(r.kind)).
			Msg("Rate limit script execution failed")
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	res, err := parseReply(raw)
	if err != nil {
		storeErrorsTotal.WithLabelValues(string(r.kind)).Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	outcome := outcomeAllowed
	switch {
	case res.BanTTL > 0:
		outcome = outcomeBanned
	case !res.Allowed:
		outcome = outcomeLimited
	}
	hitsTotal.WithLabelValues(string(r.kind), outcome).Inc()

	log.Debug().
		Str("strategy", string(r.kind)).
		Str("identifier_hash", keyspace.HashIdentifier(identifier)).
		Str("outcome", outcome).
		Uint("remaining", res.Remaining).
		Int64("reset_at", res.ResetAt).
		Int64("ban_ttl", res.BanTTL).
		Msg("Hit evaluated")

	return res, nil
}

// parseReply decodes the script reply {allowed, remaining, resetAt, banTTL,
// serverNow} into a Result.
func parseReply(raw interface{}) (Result, error) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 5 {
		return Result{}, fmt.Errorf("unexpected script reply: %#v", raw)
	}

	vals := make([]int64, 5)
	for i, v := range arr {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("unexpected script reply element %d: %#v", i, v)
		}
		vals[i] = n
	}

	remaining := vals[1]
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   vals[0] == 1,
		Remaining: uint(remaining),
		ResetAt:   vals[2],
		BanTTL:    vals[3],
		ServerNow: vals[4],
	}, nil
}
