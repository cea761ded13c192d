package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mongosh2006/easylimiter/pkg/limiter"
)

// Error pages rendered for browser clients.
const (
	rateLimitedPage = `<body style="margin:0;height:100vh;display:grid;place-items:center;background:#0d1117;color:#c9d1d9;font:16px system-ui,sans-serif">` +
		`<div style="width:500px;padding:32px;background:#161b22;border-radius:12px;text-align:center;border:2px solid #30363d">` +
		`<h1 style="color:#f85149;margin:0 0 16px;font-size:32px">429 Too Many Requests</h1>` +
		`<p style="margin:12px 0">Rate limit exceeded.</p>` +
		`<p style="color:#8b949e">Retry in <strong>%d</strong>s</p></div></body>`

	bannedPage = `<body style="margin:0;height:100vh;display:grid;place-items:center;background:#0d1117;color:#c9d1d9;font:16px system-ui,sans-serif">` +
		`<div style="width:500px;padding:32px;background:#161b22;border-radius:12px;text-align:center;border:2px solid #30363d">` +
		`<h1 style="color:#f85149;margin:0 0 16px;font-size:32px">403 Blocked</h1>` +
		`<p style="margin:12px 0">Too many requests from your IP.</p>` +
		`<p style="color:#8b949e">Temporarily blocked due to abuse.</p></div></body>`
)

// cliUserAgents marks clients that prefer JSON even without an Accept
// header.
var cliUserAgents = []string{"curl", "wget", "postman", "python-requests"}

type errorBody struct {
	Error      string `json:"error"`
	Detail     string `json:"detail"`
	RetryAfter int64  `json:"retry_after"`
}

// wantsJSON reports whether the client should receive a JSON error body
// instead of the HTML page.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, cli := range cliUserAgents {
		if strings.Contains(ua, cli) {
			return true
		}
	}
	return false
}

// setPolicyHeaders writes the RateLimit-Policy and RateLimit headers for
// the reported rule.
func setPolicyHeaders(h http.Header, ph limiter.PolicyHeaders) {
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", ph.Limit, ph.Window))
	h.Set("RateLimit", fmt.Sprintf("limit=%d, remaining=%d, reset=%d", ph.Limit, ph.Remaining, ph.Reset))
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, dec limiter.Decision) {
	w.Header().Set("Retry-After", strconv.FormatInt(dec.RetryAfter, 10))
	setPolicyHeaders(w.Header(), limiter.PolicyHeaders{
		Limit:  dec.Limit,
		Window: dec.Window,
		Reset:  dec.RetryAfter,
	})

	if wantsJSON(r) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:      "rate_limit_exceeded",
			Detail:     "Rate limit exceeded",
			RetryAfter: dec.RetryAfter,
		})
		return
	}
	writeHTML(w, http.StatusTooManyRequests, fmt.Sprintf(rateLimitedPage, dec.RetryAfter))
}

func writeBanned(w http.ResponseWriter, r *http.Request, dec limiter.Decision) {
	w.Header().Set("Retry-After", strconv.FormatInt(dec.RetryAfter, 10))

	if wantsJSON(r) {
		writeJSON(w, http.StatusForbidden, errorBody{
			Error:      "forbidden",
			Detail:     "Access blocked due to repeated abuse",
			RetryAfter: dec.RetryAfter,
		})
		return
	}
	writeHTML(w, http.StatusForbidden, bannedPage)
}

func writeJSON(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeHTML(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}
