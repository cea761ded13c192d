//go:build integration

package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/internal/testutil"
	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

func TestFixedWindow_Integration_LimitEnforcement(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	s := NewFixedWindow(rdb, DefaultBanPolicy())
	const limit, window = 5, 60

	for i := 0; i < limit; i++ {
		res, err := s.Hit(ctx, "10.0.0.1", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if want := uint(limit - i - 1); res.Remaining != want {
			t.Errorf("request %d Remaining = %d, want %d", i+1, res.Remaining, want)
		}
		if res.ResetAt <= res.ServerNow || res.ResetAt > res.ServerNow+window {
			t.Errorf("request %d ResetAt = %d outside (%d, %d]", i+1, res.ResetAt, res.ServerNow, res.ServerNow+window)
		}
	}

	res, err := s.Hit(ctx, "10.0.0.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if res.Allowed {
		t.Error("request over limit allowed, want denied")
	}
	if res.BanTTL != 0 {
		t.Errorf("BanTTL = %d, want 0 (single offense below threshold)", res.BanTTL)
	}
}

func TestFixedWindow_Integration_BoundaryAdmitsUpToTwiceLimit(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	s := NewFixedWindow(rdb, DefaultBanPolicy())
	const limit, window = 3, 2

	// Wait out the current window so the burst starts fresh.
	first, err := s.Hit(ctx, "10.0.0.2", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	time.Sleep(time.Duration(first.ResetAt-first.ServerNow)*time.Second + 200*time.Millisecond)

	// Run across exactly one boundary: stop short of the second one.
	allowed := 0
	deadline := time.Now().Add(2*window*time.Second - 500*time.Millisecond)
	for time.Now().Before(deadline) {
		res, err := s.Hit(ctx, "10.0.0.2", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if res.Allowed {
			allowed++
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Straddling one boundary can admit up to 2*limit, never more.
	if allowed > 2*limit {
		t.Errorf("admitted %d requests across one boundary, want <= %d", allowed, 2*limit)
	}
	if allowed < limit {
		t.Errorf("admitted %d requests, want >= %d", allowed, limit)
	}
}

func TestSlidingLog_Integration_ExactWindow(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	s := NewSlidingLog(rdb, DefaultBanPolicy())
	const limit, window = 2, 3

	// Events are scored at second resolution, so hits are spaced across
	// distinct seconds.
	res, err := s.Hit(ctx, "10.0.1.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("first hit = %+v, want allowed with remaining 1", res)
	}
	oldest := res.ServerNow

	time.Sleep(1100 * time.Millisecond)
	res, err = s.Hit(ctx, "10.0.1.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if !res.Allowed || res.Remaining != 0 {
		t.Fatalf("second hit = %+v, want allowed with remaining 0", res)
	}

	time.Sleep(1100 * time.Millisecond)
	res, err = s.Hit(ctx, "10.0.1.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("third hit inside window allowed, want denied")
	}
	if res.ResetAt != oldest+window {
		t.Errorf("ResetAt = %d, want oldest+window = %d", res.ResetAt, oldest+window)
	}

	// Once the oldest event ages out the next request is admitted again.
	time.Sleep(time.Duration(res.ResetAt-res.ServerNow)*time.Second + 200*time.Millisecond)
	res, err = s.Hit(ctx, "10.0.1.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if !res.Allowed {
		t.Error("hit after oldest event expired denied, want allowed")
	}
}

func TestSlidingLog_Integration_NeverExceedsLimitInAnyWindow(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	s := NewSlidingLog(rdb, DefaultBanPolicy())
	const limit, window = 2, 3

	// Events are scored at second resolution, so requests are spaced
	// across distinct seconds and admissions recorded per store clock.
	var admitted []int64
	for i := 0; i < 8; i++ {
		res, err := s.Hit(ctx, "10.0.1.2", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if res.Allowed {
			admitted = append(admitted, res.ServerNow)
		}
		time.Sleep(1100 * time.Millisecond)
	}

	// Exactness property: no window position ever contains more than limit
	// admissions.
	for i := range admitted {
		inWindow := 0
		for j := range admitted {
			if admitted[j] > admitted[i]-window && admitted[j] <= admitted[i] {
				inWindow++
			}
		}
		if inWindow > limit {
			t.Fatalf("window ending at %d contains %d admissions, want <= %d", admitted[i], inWindow, limit)
		}
	}
}

func TestMovingWindow_Integration_RemainingBounds(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	s := NewMovingWindow(rdb, DefaultBanPolicy())
	const limit, window = 5, 2

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := s.Hit(ctx, "10.0.2.1", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if res.Remaining > limit {
			t.Fatalf("Remaining = %d, want <= %d", res.Remaining, limit)
		}
		if res.ResetAt%window != 0 {
			t.Errorf("ResetAt = %d, want epoch-aligned multiple of %d", res.ResetAt, window)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestBanEscalation_Integration_Monotonic(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	policy := BanPolicy{
		Threshold:   1,
		InitialBan:  60,
		MaxBan:      480,
		DecayWindow: 3600,
		SiteWide:    true,
	}
	s := NewFixedWindow(rdb, policy)
	const limit, window = 1, 60

	// Preset the consecutive-ban count to simulate the state left behind
	// by earlier bans, then trigger the next one and check its duration.
	wantDurations := []int64{60, 120, 240, 480, 480}
	for i, want := range wantDurations {
		identifier := fmt.Sprintf("10.0.3.%d", i)
		counterKey := keyspace.CounterKey(identifier, keyspace.Fixed, limit, window)
		metaKey := keyspace.MetaKey(counterKey)

		if i > 0 {
			if err := rdb.HSet(ctx, metaKey, "bc", i).Err(); err != nil {
				t.Fatalf("HSet() error = %v", err)
			}
		}

		if _, err := s.Hit(ctx, identifier, limit, window); err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		res, err := s.Hit(ctx, identifier, limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}

		if res.Allowed {
			t.Fatalf("ban %d: over-limit hit allowed", i+1)
		}
		if res.BanTTL != want {
			t.Errorf("ban %d duration = %d, want %d", i+1, res.BanTTL, want)
		}

		// Escalation resets the offense count and keeps the ban count.
		off, err := rdb.HGet(ctx, metaKey, "off").Int()
		if err != nil {
			t.Fatalf("HGet(off) error = %v", err)
		}
		if off != 0 {
			t.Errorf("ban %d: offense count = %d, want 0 after ban fired", i+1, off)
		}
		bc, err := rdb.HGet(ctx, metaKey, "bc").Int()
		if err != nil {
			t.Fatalf("HGet(bc) error = %v", err)
		}
		if bc != i+1 {
			t.Errorf("ban %d: consecutive ban count = %d, want %d", i+1, bc, i+1)
		}
	}
}

func TestBanEscalation_Integration_MetaOutlivesBan(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()
	const limit, window = 1, 60

	// When a ban fires the meta hash expiry is extended to whichever is
	// longer, the ban itself or the decay window.
	tests := []struct {
		name       string
		identifier string
		policy     BanPolicy
		wantTTL    int64
	}{
		{
			name:       "decay_longer_than_ban",
			identifier: "10.0.6.1",
			policy:     BanPolicy{Threshold: 1, InitialBan: 2, MaxBan: 480, DecayWindow: 30, SiteWide: true},
			wantTTL:    30,
		},
		{
			name:       "ban_longer_than_decay",
			identifier: "10.0.6.2",
			policy:     BanPolicy{Threshold: 1, InitialBan: 300, MaxBan: 600, DecayWindow: 5, SiteWide: true},
			wantTTL:    300,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewFixedWindow(rdb, tt.policy)

			var res Result
			var err error
			for i := 0; i < 3; i++ {
				res, err = s.Hit(ctx, tt.identifier, limit, window)
				if err != nil {
					t.Fatalf("Hit() error = %v", err)
				}
				if !res.Allowed {
					break
				}
			}
			if res.Allowed {
				t.Fatal("no hit denied, want a ban to fire")
			}
			if res.BanTTL != int64(tt.policy.InitialBan) {
				t.Fatalf("BanTTL = %d, want %d", res.BanTTL, tt.policy.InitialBan)
			}

			metaKey := keyspace.MetaKey(keyspace.CounterKey(tt.identifier, keyspace.Fixed, limit, window))
			ttl, err := rdb.TTL(ctx, metaKey).Result()
			if err != nil {
				t.Fatalf("TTL(meta) error = %v", err)
			}
			secs := int64(ttl / time.Second)
			if secs < tt.wantTTL-1 || secs > tt.wantTTL {
				t.Errorf("meta TTL = %ds, want %d", secs, tt.wantTTL)
			}
		})
	}
}

func TestBanEscalation_Integration_ResetsAfterQuietPeriod(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	policy := BanPolicy{
		Threshold:   1,
		InitialBan:  2,
		MaxBan:      480,
		DecayWindow: 3,
		SiteWide:    true,
	}
	s := NewFixedWindow(rdb, policy)
	const limit, window = 1, 60
	const identifier = "10.0.6.3"

	metaKey := keyspace.MetaKey(keyspace.CounterKey(identifier, keyspace.Fixed, limit, window))

	ban := func() Result {
		t.Helper()
		var res Result
		var err error
		for i := 0; i < 3; i++ {
			res, err = s.Hit(ctx, identifier, limit, window)
			if err != nil {
				t.Fatalf("Hit() error = %v", err)
			}
			if !res.Allowed {
				return res
			}
		}
		t.Fatal("no hit denied, want a ban to fire")
		return res
	}

	first := ban()
	if first.BanTTL != int64(policy.InitialBan) {
		t.Fatalf("first ban duration = %d, want %d", first.BanTTL, policy.InitialBan)
	}

	// Outlast both the ban and the decay window: the meta hash expires and
	// takes the consecutive-ban count with it.
	time.Sleep(4 * time.Second)

	exists, err := rdb.Exists(ctx, metaKey).Result()
	if err != nil {
		t.Fatalf("Exists(meta) error = %v", err)
	}
	if exists != 0 {
		t.Fatalf("meta hash still present after decay window elapsed")
	}

	second := ban()
	if second.BanTTL != int64(policy.InitialBan) {
		t.Errorf("ban duration after quiet period = %d, want %d (escalation reset)", second.BanTTL, policy.InitialBan)
	}
	bc, err := rdb.HGet(ctx, metaKey, "bc").Int()
	if err != nil {
		t.Fatalf("HGet(bc) error = %v", err)
	}
	if bc != 1 {
		t.Errorf("consecutive ban count after quiet period = %d, want 1", bc)
	}
}

func TestBanPrecedence_Integration_CounterUntouched(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	policy := BanPolicy{Threshold: 1, InitialBan: 300, MaxBan: 600, DecayWindow: 600, SiteWide: true}
	s := NewFixedWindow(rdb, policy)
	const limit, window = 3, 60

	for i := 0; i < limit; i++ {
		if _, err := s.Hit(ctx, "10.0.4.1", limit, window); err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
	}

	// Threshold 1: the first over-limit hit bans immediately.
	res, err := s.Hit(ctx, "10.0.4.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if res.BanTTL <= 0 {
		t.Fatalf("BanTTL = %d, want positive after threshold breach", res.BanTTL)
	}

	counterKey := keyspace.CounterKey("10.0.4.1", keyspace.Fixed, limit, window)
	before, err := rdb.Get(ctx, counterKey).Int()
	if err != nil {
		t.Fatalf("Get(counter) error = %v", err)
	}

	// Hits during an active ban are denied without touching the counter.
	for i := 0; i < 3; i++ {
		res, err := s.Hit(ctx, "10.0.4.1", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if res.Allowed {
			t.Fatal("hit during active ban allowed")
		}
		if res.BanTTL <= 0 {
			t.Errorf("hit during active ban BanTTL = %d, want positive", res.BanTTL)
		}
	}

	after, err := rdb.Get(ctx, counterKey).Int()
	if err != nil {
		t.Fatalf("Get(counter) error = %v", err)
	}
	if after != before {
		t.Errorf("counter changed during ban: %d -> %d", before, after)
	}
}

func TestBanScope_Integration_SiteWideVsPerRule(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		siteWide   bool
		identifier string
		wantBanned bool
	}{
		{name: "site-wide ban covers other rules", siteWide: true, identifier: "10.0.5.1", wantBanned: true},
		{name: "per-rule ban stays scoped", siteWide: false, identifier: "10.0.5.2", wantBanned: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := BanPolicy{Threshold: 1, InitialBan: 300, MaxBan: 600, DecayWindow: 600, SiteWide: tt.siteWide}
			fixed := NewFixedWindow(rdb, policy)
			moving := NewMovingWindow(rdb, policy)
			const limit, window = 1, 60

			if _, err := fixed.Hit(ctx, tt.identifier, limit, window); err != nil {
				t.Fatalf("Hit() error = %v", err)
			}
			res, err := fixed.Hit(ctx, tt.identifier, limit, window)
			if err != nil {
				t.Fatalf("Hit() error = %v", err)
			}
			if res.BanTTL <= 0 {
				t.Fatalf("fixed rule did not ban: %+v", res)
			}

			// A different rule (other strategy, other numeric policy).
			other, err := moving.Hit(ctx, tt.identifier, 100, 30)
			if err != nil {
				t.Fatalf("Hit() error = %v", err)
			}
			if banned := other.BanTTL > 0; banned != tt.wantBanned {
				t.Errorf("other rule banned = %v, want %v", banned, tt.wantBanned)
			}
		})
	}
}

func TestEndToEnd_Integration_Scenario(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	ctx := context.Background()

	policy := BanPolicy{Threshold: 3, InitialBan: 30, MaxBan: 480, DecayWindow: 3600, SiteWide: true}
	s := NewFixedWindow(rdb, policy)
	const limit, window = 5, 60

	wantRemaining := []uint{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		res, err := s.Hit(ctx, "10.0.6.1", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if res.Remaining != want {
			t.Errorf("request %d Remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	// Offenses 1 and 2 are denied without a ban.
	for i := 0; i < 2; i++ {
		res, err := s.Hit(ctx, "10.0.6.1", limit, window)
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if res.Allowed || res.BanTTL != 0 {
			t.Fatalf("offense %d = %+v, want denied without ban", i+1, res)
		}
	}

	// Offense 3 reaches the threshold and bans for the initial duration.
	res, err := s.Hit(ctx, "10.0.6.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if res.BanTTL != 30 {
		t.Fatalf("third offense BanTTL = %d, want 30", res.BanTTL)
	}

	// Ten seconds later the ban is still in force with ~20s remaining.
	time.Sleep(10 * time.Second)
	res, err = s.Hit(ctx, "10.0.6.1", limit, window)
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("hit during ban allowed")
	}
	if res.BanTTL < 18 || res.BanTTL > 21 {
		t.Errorf("BanTTL after 10s = %d, want ~20", res.BanTTL)
	}
}

func TestHit_Integration_StoreUnavailable(t *testing.T) {
	// Port 1 is never a Redis server; the dial fails immediately.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	s := NewFixedWindow(rdb, DefaultBanPolicy())
	_, err := s.Hit(context.Background(), "10.0.7.1", 5, 60)
	if err == nil {
		t.Fatal("Hit() expected error with unreachable store")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Hit() error = %v, want ErrStoreUnavailable", err)
	}
}
