// Package limiter merges per-rule rate limit verdicts into one admission
// decision. Each matched rule is checked through its strategy's atomic hit;
// an active ban or an exhausted window short-circuits the evaluation so no
// store round-trips are spent on rules already moot for the request.
package limiter

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
	"github.com/mongosh2006/easylimiter/pkg/rules"
	"github.com/mongosh2006/easylimiter/pkg/strategy"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ratelimit_decisions_total",
	Help: "Total merged admission decisions by outcome",
}, []string{"outcome"})

// Evaluator applies a request's matched rules and combines their verdicts
// with AND semantics. Safe for concurrent use; all mutable state lives in
// the shared store.
type Evaluator struct {
	strategies map[keyspace.Kind]strategy.Strategy
	logger     zerolog.Logger
}

// NewEvaluator creates an evaluator with one strategy instance per kind,
// all sharing the given Redis client and ban policy.
func NewEvaluator(rdb *redis.Client, policy strategy.BanPolicy, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		strategies: map[keyspace.Kind]strategy.Strategy{
			keyspace.Fixed:      strategy.NewFixedWindow(rdb, policy),
			keyspace.SlidingLog: strategy.NewSlidingLog(rdb, policy),
			keyspace.Moving:     strategy.NewMovingWindow(rdb, policy),
		},
		logger: logger,
	}
}

// Evaluate runs every matched rule against the identifier and returns the
// merged decision. Evaluation stops at the first rule reporting a ban or an
// exhausted window; if all rules allow, the reported headers come from the
// rule with the smallest remaining budget (first minimum wins).
//
// A store failure is returned as an error wrapping
// strategy.ErrStoreUnavailable, never as an allow or deny.
func (e *Evaluator) Evaluate(ctx context.Context, identifier string, matched []rules.Rule) (Decision, error) {
	if len(matched) == 0 {
		decisionsTotal.WithLabelValues(string(OutcomeAllowed)).Inc()
		return Decision{Outcome: OutcomeAllowed}, nil
	}

	var best *PolicyHeaders
	for _, rule := range matched {
		strat, ok := e.strategies[rule.Kind]
		if !ok {
			return Decision{}, fmt.Errorf("no strategy for kind %q", rule.Kind)
		}

		res, err := strat.Hit(ctx, identifier, rule.Limit, rule.Window)
		if err != nil {
			return Decision{}, fmt.Errorf("rule %q: %w", rule.Pattern, err)
		}

		if res.BanTTL > 0 {
			e.logger.Warn().
				Str("identifier_hash", keyspace.HashIdentifier(identifier)).
				Str("rule", rule.Pattern).
				Int64("ban_ttl", res.BanTTL).
				Msg("Request rejected by active ban")
			decisionsTotal.WithLabelValues(string(OutcomeBanned)).Inc()
			return Decision{
				Outcome:    OutcomeBanned,
				RetryAfter: res.BanTTL,
				Limit:      rule.Limit,
				Window:     rule.Window,
			}, nil
		}

		if !res.Allowed {
			retry := res.ResetAt - res.ServerNow
			if retry < 1 {
				retry = 1
			}
			e.logger.Info().
				Str("identifier_hash", keyspace.HashIdentifier(identifier)).
				Str("rule", rule.Pattern).
				Int64("retry_after", retry).
				Msg("Request rate limited")
			decisionsTotal.WithLabelValues(string(OutcomeRateLimited)).Inc()
			return Decision{
				Outcome:    OutcomeRateLimited,
				RetryAfter: retry,
				Limit:      rule.Limit,
				Window:     rule.Window,
			}, nil
		}

		if best == nil || res.Remaining < best.Remaining {
			reset := res.ResetAt - res.ServerNow
			if reset < 1 {
				reset = 1
			}
			best = &PolicyHeaders{
				Limit:     rule.Limit,
				Remaining: res.Remaining,
				Window:    rule.Window,
				Reset:     reset,
			}
		}
	}

	decisionsTotal.WithLabelValues(string(OutcomeAllowed)).Inc()
	return Decision{Outcome: OutcomeAllowed, Headers: best}, nil
}
