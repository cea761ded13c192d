package strategy

import "github.com/redis/go-redis/v9"

// Every script receives the same keys and arguments and returns the same
// reply shape, so the Go side has a single execution and parsing path:
//
//	KEYS[1] counter key   KEYS[2] ban key   KEYS[3] meta key
//	ARGV: limit, window, banThreshold, initialBan, maxBan, banDecay
//	reply: {allowed, remaining, resetAt, banTTL, serverNow}
//
// All time within one call comes from a single TIME read inside the script,
// so decisions made by different workers against the same key agree even if
// the workers' clocks drift.

// banLib is the offense/ban state machine shared by all three strategies,
// prepended so the whole read-decide-write runs inside one atomic script.
//
// ban_ttl is checked before the counting structure is touched: banned
// clients must not advance or reset their window state.
//
// record_offense bumps the offense count and refreshes the meta hash decay.
// At the threshold the consecutive-ban count drives exponential escalation
// (initial * 2^(bc-1), capped), the offense count resets, and the meta hash
// outlives the ban so escalation state survives it.
const banLib = `
local function ban_ttl(ban)
    local t = redis.call('TTL', ban)
    if t > 0 then return t end
    return 0
end

local function record_offense(meta, ban, win, threshold, initial, max_ban, decay)
    local o = tonumber(redis.call('HINCRBY', meta, 'off', 1))
    redis.call('EXPIRE', meta, win * 2)
    if o >= threshold then
        local bc = tonumber(redis.call('HINCRBY', meta, 'bc', 1))
        local d = math.min(initial * (2 ^ (bc - 1)), max_ban)
        redis.call('SET', ban, '1', 'EX', d)
        redis.call('HSET', meta, 'off', 0)
        redis.call('EXPIRE', meta, math.max(d, decay))
        return d
    end
    return 0
end
`

// fixedScript counts against epoch-aligned windows. The counter expires at
// the window boundary, so a burst straddling the boundary can admit up to
// 2*limit requests; that is a property of the algorithm, not a bug.
var fixedScript = redis.NewScript(banLib + `
local rl, ban, meta = KEYS[1], KEYS[2], KEYS[3]
local lim, win = tonumber(ARGV[1]), tonumber(ARGV[2])
local threshold, initial = tonumber(ARGV[3]), tonumber(ARGV[4])
local max_ban, decay = tonumber(ARGV[5]), tonumber(ARGV[6])
local now = tonumber(redis.call('TIME')[1])
local ws = now - now % win

local bt = ban_ttl(ban)
if bt > 0 then return {0, 0, ws + win, bt, now} end

local c = tonumber(redis.call('GET', rl) or '0')
if c < lim then
    local nc = redis.call('INCR', rl)
    redis.call('EXPIREAT', rl, ws + win)
    return {1, lim - nc, ws + win, 0, now}
end

local d = record_offense(meta, ban, win, threshold, initial, max_ban, decay)
return {0, 0, ws + win, d, now}
`)

// slidingScript keeps one timestamp per admitted request in a sorted set,
// pruned to the window on every hit. Exact, at the cost of O(requests in
// window) storage per key. The set expires a minute past the window so
// pruning races never lose live entries.
var slidingScript = redis.NewScript(banLib + `
local rl, ban, meta = KEYS[1], KEYS[2], KEYS[3]
local lim, win = tonumber(ARGV[1]), tonumber(ARGV[2])
local threshold, initial = tonumber(ARGV[3]), tonumber(ARGV[4])
local max_ban, decay = tonumber(ARGV[5]), tonumber(ARGV[6])
local now = tonumber(redis.call('TIME')[1])

local bt = ban_ttl(ban)
if bt > 0 then
    local old = redis.call('ZRANGE', rl, 0, 0, 'WITHSCORES')[2]
    local rst = old and tonumber(old) + win or now + win
    return {0, 0, rst, bt, now}
end

redis.call('ZREMRANGEBYSCORE', rl, '-inf', now - win)
local cnt = redis.call('ZCARD', rl)

if cnt < lim then
    redis.call('ZADD', rl, now, now)
    redis.call('EXPIRE', rl, win + 60)
    local old = tonumber(redis.call('ZRANGE', rl, 0, 0, 'WITHSCORES')[2] or now)
    return {1, lim - cnt - 1, old + win, 0, now}
end

local d = record_offense(meta, ban, win, threshold, initial, max_ban, decay)
if d > 0 then return {0, 0, now + win, d, now} end

local old = tonumber(redis.call('ZRANGE', rl, 0, 0, 'WITHSCORES')[2] or now - win)
return {0, 0, old + win, 0, now}
`)

// movingScript keeps two epoch buckets and weights the previous one by the
// fraction of the window it still covers. O(1) storage, smoother boundaries
// than fixed, approximate. Buckets expire after two windows so the previous
// bucket survives into the next epoch's weighting.
var movingScript = redis.NewScript(banLib + `
local base, ban, meta = KEYS[1], KEYS[2], KEYS[3]
local lim, win = tonumber(ARGV[1]), tonumber(ARGV[2])
local threshold, initial = tonumber(ARGV[3]), tonumber(ARGV[4])
local max_ban, decay = tonumber(ARGV[5]), tonumber(ARGV[6])
local now = tonumber(redis.call('TIME')[1])
local cw = math.floor(now / win)
local ck, pk = base .. ':' .. cw, base .. ':' .. (cw - 1)
local rst = (cw + 1) * win

local bt = ban_ttl(ban)
if bt > 0 then return {0, 0, rst, bt, now} end

local curr = tonumber(redis.call('GET', ck) or '0')
local prev = tonumber(redis.call('GET', pk) or '0')
local wc = math.floor(prev * (win - now % win) / win + curr)

if wc < lim then
    local nc = redis.call('INCR', ck)
    redis.call('EXPIRE', ck, win * 2)
    wc = math.floor(prev * (win - now % win) / win + nc)
    return {1, math.max(0, lim - wc), rst, 0, now}
end

local d = record_offense(meta, ban, win, threshold, initial, max_ban, decay)
return {0, 0, rst, d, now}
`)
