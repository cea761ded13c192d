// Package metrics provides the centralized Prometheus metrics registry for
// the rate limiter. All metrics are defined in their respective packages
// (strategy, limiter, middleware) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the rate limiter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Strategy Metrics (pkg/strategy):
//   - ratelimit_hits_total{strategy, outcome} (Counter): Hits by counting strategy and outcome (allowed, limited, banned)
//   - ratelimit_store_errors_total{strategy} (Counter): Hits that failed because the store was unreachable
//   - ratelimit_hit_duration_seconds{strategy} (Histogram): Round-trip duration of the atomic hit transaction
//
// Decision Metrics (pkg/limiter):
//   - ratelimit_decisions_total{outcome} (Counter): Final per-request decisions after evaluating all matched rules
//
// HTTP Adapter Metrics (pkg/middleware):
//   - ratelimit_exempt_total (Counter): Requests bypassing rate limiting via an exemption
//   - ratelimit_fail_open_total (Counter): Requests admitted because the store was unreachable
//
// Example Prometheus Queries:
//
//   # Denial Rate
//   sum(rate(ratelimit_decisions_total{outcome!="allowed"}[5m])) /
//   sum(rate(ratelimit_decisions_total[5m]))
//
//   # Active Ban Pressure
//   rate(ratelimit_hits_total{outcome="banned"}[5m])
//
//   # Store Health
//   rate(ratelimit_store_errors_total[5m])
//
//   # P95 Hit Latency
//   histogram_quantile(0.95, rate(ratelimit_hit_duration_seconds_bucket[5m]))
//
//   # Fail-Open Exposure
//   rate(ratelimit_fail_open_total[5m])
