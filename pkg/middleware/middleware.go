// Package middleware adapts the admission engine to net/http: it derives
// the client identifier, consults the rule matcher and evaluator, and
// translates the decision into HTTP responses and rate limit headers.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mongosh2006/easylimiter/pkg/limiter"
	"github.com/mongosh2006/easylimiter/pkg/rules"
	"github.com/mongosh2006/easylimiter/pkg/strategy"
)

// Prometheus metrics for the HTTP adapter.
var (
	exemptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_exempt_total",
		Help: "Total requests bypassing rate limiting via an exemption",
	})

	failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_fail_open_total",
		Help: "Total requests admitted because the store was unreachable",
	})
)

// Config holds the middleware configuration.
type Config struct {
	// Rules maps a path pattern to its rate limit policy. Patterns ending
	// in "/*" match the prefix and everything nested under it.
	Rules map[string]rules.Spec

	// Exempt lists path patterns that bypass rate limiting entirely.
	Exempt []string

	// BanPolicy configures offense tracking and ban escalation.
	BanPolicy strategy.BanPolicy

	// TrustForwardedFor derives the client identifier from the first hop
	// of the X-Forwarded-For header. Only enable behind a trusted reverse
	// proxy that sets or strips the header; untrusted XFF lets clients
	// bypass rate limiting by spoofing it.
	TrustForwardedFor bool

	// FailOpen admits requests when the store is unreachable instead of
	// rejecting them with 503. A store failure is never silently treated
	// as a rate limit verdict either way.
	FailOpen bool
}

// DefaultConfig returns a configuration with the default ban policy and
// fail-open behavior, no rules and no exemptions.
func DefaultConfig() Config {
	return Config{
		BanPolicy: strategy.DefaultBanPolicy(),
		FailOpen:  true,
	}
}

// Handler is the rate limiting http.Handler wrapper.
type Handler struct {
	next     http.Handler
	matcher  *rules.Matcher
	eval     *limiter.Evaluator
	trustXFF bool
	failOpen bool
	logger   zerolog.Logger
}

// New wraps next with rate limiting. Configuration errors (unknown strategy
// names) are reported here, never at request time.
func New(next http.Handler, rdb *redis.Client, cfg Config) (*Handler, error) {
	matcher, err := rules.NewMatcher(cfg.Rules, cfg.Exempt)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "ratelimit").Logger()

	return &Handler{
		next:     next,
		matcher:  matcher,
		eval:     limiter.NewEvaluator(rdb, cfg.BanPolicy, logger),
		trustXFF: cfg.TrustForwardedFor,
		failOpen: cfg.FailOpen,
		logger:   logger,
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Fast path: exempt routes skip everything, including the store.
	if h.matcher.Exempt(r.URL.Path) {
		exemptTotal.Inc()
		h.next.ServeHTTP(w, r)
		return
	}

	matched := h.matcher.Match(r.URL.Path)
	if len(matched) == 0 {
		h.next.ServeHTTP(w, r)
		return
	}

	dec, err := h.eval.Evaluate(r.Context(), h.identifier(r), matched)
	if err != nil {
		if h.failOpen {
			failOpenTotal.Inc()
			h.logger.Error().
				Err(err).
				Str("path", r.URL.Path).
				Msg("Store unreachable, admitting request fail-open")
			h.next.ServeHTTP(w, r)
			return
		}
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Store unreachable, rejecting request fail-closed")
		http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
		return
	}

	switch dec.Outcome {
	case limiter.OutcomeBanned:
		writeBanned(w, r, dec)
	case limiter.OutcomeRateLimited:
		writeRateLimited(w, r, dec)
	default:
		if dec.Headers != nil {
			setPolicyHeaders(w.Header(), *dec.Headers)
		}
		h.next.ServeHTTP(w, r)
	}
}

// identifier extracts the rate limiting subject for a request. With
// TrustForwardedFor set, the first IP in the X-Forwarded-For chain wins;
// otherwise the connection address is used. Requests with no usable
// address are collapsed into the literal identifier "unknown".
func (h *Handler) identifier(r *http.Request) string {
	if h.trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
