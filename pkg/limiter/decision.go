package limiter

// Outcome classifies the overall verdict for one request.
type Outcome string

const (
	// OutcomeAllowed admits the request.
	OutcomeAllowed Outcome = "allowed"

	// OutcomeRateLimited rejects the request because a matched rule's
	// window is exhausted.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeBanned rejects the request because the identifier carries an
	// active ban.
	OutcomeBanned Outcome = "banned"
)

// PolicyHeaders carries the rate limit status an adapter surfaces on an
// admitted response. When several rules match, the rule with the smallest
// remaining budget is reported. Wire formatting is the adapter's concern.
type PolicyHeaders struct {
	// Limit is the reported rule's request budget per window.
	Limit uint

	// Remaining is the budget left in the current window.
	Remaining uint

	// Window is the window length in seconds.
	Window uint

	// Reset is the number of seconds until the window rolls over, per the
	// store's clock. Always at least 1.
	Reset int64
}

// Decision is the merged verdict over all rules matching a request.
type Decision struct {
	Outcome Outcome

	// RetryAfter is the number of seconds after which a rejected request
	// may be retried: seconds to window rollover when rate limited, the
	// remaining ban duration when banned. Zero when allowed.
	RetryAfter int64

	// Limit and Window describe the rule that caused a rejection. Zero
	// when allowed.
	Limit  uint
	Window uint

	// Headers is set on an allowed decision when at least one rule
	// matched; nil on pass-through and on rejections.
	Headers *PolicyHeaders
}
