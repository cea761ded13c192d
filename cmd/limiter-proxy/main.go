// Command limiter-proxy runs a rate limiting reverse proxy in front of an
// upstream HTTP service. Rules, ban policy and transport behavior are
// configured through the environment.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
	"github.com/mongosh2006/easylimiter/pkg/logging"
	"github.com/mongosh2006/easylimiter/pkg/middleware"
	"github.com/mongosh2006/easylimiter/pkg/rules"
	"github.com/mongosh2006/easylimiter/pkg/strategy"
)

// Specification is the environment configuration of the proxy.
//
// RULES holds the rate limit rule set as a comma-separated list of
// pattern=limit:window:strategy entries, e.g.
//
//	RULES="/api/*=100:1m:fixed,/login=5:10m:sliding"
//
// Window and ban durations accept the same lenient notation as the rule
// engine ("30", "1m", "2h", "1d").
type Specification struct {
	RedisAddr string `default:"localhost:6379" envconfig:"redis_addr"`
	Port      string `default:"8080" envconfig:"port"`
	Upstream  string `default:"http://localhost:9000" envconfig:"upstream"`

	Rules  string `envconfig:"rules"`
	Exempt string `default:"/healthz,/metrics" envconfig:"exempt"`

	BanThreshold uint   `default:"8" envconfig:"ban_threshold"`
	BanInitial   string `default:"5m" envconfig:"ban_initial"`
	BanMax       string `default:"1d" envconfig:"ban_max"`
	BanDecay     string `default:"1h" envconfig:"ban_decay"`
	SiteWideBans bool   `default:"true" envconfig:"site_wide_bans"`

	TrustForwardedFor bool `default:"false" envconfig:"trust_forwarded_for"`
	FailOpen          bool `default:"true" envconfig:"fail_open"`

	LogLevel  string `default:"info" envconfig:"log_level"`
	LogPretty bool   `default:"false" envconfig:"log_pretty"`
}

func main() {
	var spec Specification
	if err := envconfig.Process("", &spec); err != nil {
		panic(err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(spec.LogLevel),
		Pretty: spec.LogPretty,
	}).With().Str("component", "proxy").Logger()

	ruleSet, err := parseRules(spec.Rules)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid RULES")
	}
	if len(ruleSet) == 0 {
		logger.Warn().Msg("No rules configured, all traffic passes through")
	}

	upstream, err := url.Parse(spec.Upstream)
	if err != nil {
		logger.Fatal().Err(err).Str("upstream", spec.Upstream).Msg("Invalid UPSTREAM")
	}

	rdb := redis.NewClient(&redis.Options{Addr: spec.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", spec.RedisAddr).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", spec.RedisAddr).Msg("Connected to Redis")

	cfg := middleware.Config{
		Rules:             ruleSet,
		Exempt:            splitList(spec.Exempt),
		TrustForwardedFor: spec.TrustForwardedFor,
		FailOpen:          spec.FailOpen,
		BanPolicy: strategy.BanPolicy{
			Threshold:   spec.BanThreshold,
			InitialBan:  rules.ParseDuration(spec.BanInitial),
			MaxBan:      rules.ParseDuration(spec.BanMax),
			DecayWindow: rules.ParseDuration(spec.BanDecay),
			SiteWide:    spec.SiteWideBans,
		},
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	limited, err := middleware.New(proxy, rdb, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid rate limit configuration")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", limited)

	addr := ":" + spec.Port
	logger.Info().
		Str("addr", addr).
		Str("upstream", upstream.String()).
		Int("rules", len(ruleSet)).
		Msg("Starting rate limiting proxy")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// parseRules decodes the RULES environment string. Each entry is
// pattern=limit:window:strategy; malformed entries are an error rather
// than silently skipped so typos surface at startup.
func parseRules(s string) (map[string]rules.Spec, error) {
	out := map[string]rules.Spec{}
	for _, entry := range splitList(s) {
		pattern, policy, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("rule %q: missing '='", entry)
		}
		fields := strings.Split(policy, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("rule %q: want limit:window:strategy", entry)
		}
		limit, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil || limit == 0 {
			return nil, fmt.Errorf("rule %q: invalid limit %q", entry, fields[0])
		}
		kind := strings.TrimSpace(fields[2])
		if _, ok := keyspace.ParseKind(kind); !ok {
			return nil, fmt.Errorf("rule %q: unknown strategy %q", entry, kind)
		}
		out[strings.TrimSpace(pattern)] = rules.Spec{
			Limit:    uint(limit),
			Window:   rules.ParseDuration(strings.TrimSpace(fields[1])),
			Strategy: kind,
		}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
