package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_music/internal/engine"
)

type fakeMembership struct {
	mu      sync.Mutex
	members map[string]bool
	errs    map[string]error
	calls   map[string]int
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: map[string]bool{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeMembership) IsMember(_ context.Context, channel string, requester int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%d", channel, requester)
	f.calls[key]++
	if err := f.errs[key]; err != nil {
		return false, err
	}
	return f.members[key], nil
}

func (f *fakeMembership) set(channel string, requester int64, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[fmt.Sprintf("%s/%d", channel, requester)] = member
}

func (f *fakeMembership) fail(channel string, requester int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[fmt.Sprintf("%s/%d", channel, requester)] = err
}

func (f *fakeMembership) callCount(channel string, requester int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fmt.Sprintf("%s/%d", channel, requester)]
}

type fakeLog struct {
	counts map[int64]int
	err    error
	since  time.Time
}

func (f *fakeLog) RecordDownload(context.Context, engine.Download) error { return nil }

func (f *fakeLog) CountDownloadsSince(_ context.Context, requester int64, since time.Time) (int, error) {
	f.since = since
	return f.counts[requester], f.err
}

type fakeGauge struct{ n, cap int }

func (g *fakeGauge) Len() int   { return g.n }
func (g *fakeGauge) Cap() int   { return g.cap }
func (g *fakeGauge) Full() bool { return g.n >= g.cap }

const (
	primary = "@main"
	vip     = "@vip"
	user    = int64(42)
)

type fixture struct {
	ctl     *Controller
	members *fakeMembership
	log     *fakeLog
	fast    *fakeGauge
	slow    *fakeGauge
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		members: newFakeMembership(),
		log:     &fakeLog{counts: map[int64]int{}},
		fast:    &fakeGauge{cap: 200},
		slow:    &fakeGauge{cap: 50},
		now:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.members.set(primary, user, true)
	f.ctl = New(Options{
		PrimaryChannel:  primary,
		ElevatedChannel: vip,
		Now:             func() time.Time { return f.now },
	}, f.members, f.log, f.fast, f.slow)
	return f
}

func TestAdmitSuccess(t *testing.T) {
	f := newFixture(t)
	f.fast.n = 3

	d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
	require.True(t, d.Allowed, d.Reason)
	assert.Equal(t, LaneFast, d.Lane)
	assert.Equal(t, 4, d.Position)
	assert.Equal(t, 60*time.Second, d.Wait)
	assert.False(t, d.Priority)
	assert.Equal(t, DefaultBaseLimit, d.Limit)
	assert.Contains(t, d.Reason, "Position: 4.")
	assert.Contains(t, d.Reason, "~1 min")
	assert.Equal(t, f.now.Add(-24*time.Hour), f.log.since)
}

func TestAdmitRoutesPrimaryCatalogToSlowLane(t *testing.T) {
	f := newFixture(t)
	f.slow.n = 1

	d := f.ctl.Admit(context.Background(), user, engine.KindYandex)
	require.True(t, d.Allowed)
	assert.Equal(t, LaneSlow, d.Lane)
	assert.Equal(t, 2, d.Position)
	assert.Equal(t, 90*time.Second, d.Wait)

	for _, k := range []engine.ProviderKind{engine.KindSaavn, engine.KindSoundCloud, engine.KindYouTube, "unknown"} {
		assert.Equal(t, LaneFast, RouteFor(k), k)
	}
}

func TestAdmitDenials(t *testing.T) {
	t.Run("not a member", func(t *testing.T) {
		f := newFixture(t)
		f.members.set(primary, user, false)
		d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
		assert.False(t, d.Allowed)
		assert.Equal(t, DenialMembership, d.Denial)
		assert.Contains(t, d.Reason, primary)
		require.Error(t, d.Err())
		assert.True(t, errors.Is(d.Err(), engine.ErrAdmissionDenied))
		assert.Contains(t, d.Err().Error(), string(DenialMembership))
	})

	t.Run("in flight", func(t *testing.T) {
		f := newFixture(t)
		require.True(t, f.ctl.TryMarkInFlight(user))
		d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
		assert.Equal(t, DenialInFlight, d.Denial)
	})

	t.Run("base quota advertises elevated channel", func(t *testing.T) {
		f := newFixture(t)
		f.log.counts[user] = 5
		d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
		assert.Equal(t, DenialQuota, d.Denial)
		assert.Equal(t, 5, d.Limit)
		assert.Contains(t, d.Reason, vip)
		assert.Contains(t, d.Reason, "42")
	})

	t.Run("elevated quota", func(t *testing.T) {
		f := newFixture(t)
		f.members.set(vip, user, true)
		f.log.counts[user] = 42
		d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
		assert.Equal(t, DenialQuota, d.Denial)
		assert.True(t, d.Priority)
		assert.NotContains(t, d.Reason, vip)
	})

	t.Run("queue full", func(t *testing.T) {
		f := newFixture(t)
		f.slow.n = 50
		d := f.ctl.Admit(context.Background(), user, engine.KindYandex)
		assert.Equal(t, DenialQueueFull, d.Denial)
		// The fast lane is unaffected.
		ok := f.ctl.Admit(context.Background(), user, engine.KindYouTube)
		assert.True(t, ok.Allowed)
		assert.NoError(t, ok.Err())
	})

	t.Run("quota store failure denies", func(t *testing.T) {
		f := newFixture(t)
		f.log.err = errors.New("db down")
		d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
		assert.Equal(t, DenialUnavailable, d.Denial)
	})
}

func TestAdmitDenialHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.log.counts[user] = 5
	d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
	require.False(t, d.Allowed)
	assert.False(t, f.ctl.InFlight(user))
}

func TestAdmitElevatedTier(t *testing.T) {
	f := newFixture(t)
	f.members.set(vip, user, true)
	f.log.counts[user] = 10

	d := f.ctl.Admit(context.Background(), user, engine.KindSoundCloud)
	require.True(t, d.Allowed)
	assert.True(t, d.Priority)
	assert.Equal(t, DefaultElevatedLimit, d.Limit)
	assert.Contains(t, d.Reason, "VIP")
}

func TestAdmitElevatedLookupErrorFallsBackToBase(t *testing.T) {
	f := newFixture(t)
	f.members.fail(vip, user, errors.New("timeout"))

	d := f.ctl.Admit(context.Background(), user, engine.KindSaavn)
	require.True(t, d.Allowed)
	assert.False(t, d.Priority)
	assert.Equal(t, DefaultBaseLimit, d.Limit)
}

func TestMembershipCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := f.ctl.IsMember(ctx, user, primary)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, f.members.callCount(primary, user))

	f.now = f.now.Add(DefaultMembershipTTL)
	_, _ = f.ctl.IsMember(ctx, user, primary)
	assert.Equal(t, 2, f.members.callCount(primary, user), "expired entry must be refreshed")
}

func TestMembershipErrorPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("bad request is cached as denial", func(t *testing.T) {
		f := newFixture(t)
		f.members.fail(primary, user, fmt.Errorf("chat not found: %w", engine.ErrMembershipBadRequest))
		for i := 0; i < 2; i++ {
			ok, err := f.ctl.IsMember(ctx, user, primary)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.Equal(t, 1, f.members.callCount(primary, user))
	})

	t.Run("other errors deny without caching", func(t *testing.T) {
		f := newFixture(t)
		f.members.fail(primary, user, errors.New("connection reset"))
		for i := 0; i < 2; i++ {
			ok, err := f.ctl.IsMember(ctx, user, primary)
			assert.Error(t, err)
			assert.False(t, ok)
		}
		assert.Equal(t, 2, f.members.callCount(primary, user))
		assert.Equal(t, DenialMembership, f.ctl.Admit(ctx, user, engine.KindSaavn).Denial)
	})

	t.Run("empty channel is open", func(t *testing.T) {
		f := newFixture(t)
		ok, err := f.ctl.IsMember(ctx, 7, "")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestInFlight(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.ctl.TryMarkInFlight(user))
	assert.False(t, f.ctl.TryMarkInFlight(user))
	assert.True(t, f.ctl.TryMarkInFlight(user+1), "slots are per requester")
	f.ctl.Release(user)
	f.ctl.Release(user)
	assert.True(t, f.ctl.TryMarkInFlight(user))
}

func TestInFlightConcurrent(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.ctl.TryMarkInFlight(user) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestCheckSearchCooldown(t *testing.T) {
	f := newFixture(t)

	_, ok := f.ctl.CheckSearch(user)
	require.True(t, ok)

	f.now = f.now.Add(3 * time.Second)
	remaining, ok := f.ctl.CheckSearch(user)
	assert.False(t, ok)
	assert.Equal(t, 5, remaining)
	assert.Contains(t, CooldownMessage(remaining), "5 sec")

	// A refused attempt does not extend the cooldown.
	f.now = f.now.Add(5 * time.Second)
	_, ok = f.ctl.CheckSearch(user)
	assert.True(t, ok)

	_, ok = f.ctl.CheckSearch(user + 1)
	assert.True(t, ok, "cooldowns are per requester")
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.ctl.CheckSearch(user)
	_, _ = f.ctl.IsMember(context.Background(), user, primary)

	f.now = f.now.Add(10 * time.Minute)
	f.ctl.Sweep()

	f.ctl.coolMu.Lock()
	assert.Empty(t, f.ctl.cooldowns)
	f.ctl.coolMu.Unlock()
	f.ctl.memberMu.Lock()
	assert.Empty(t, f.ctl.memberCache)
	f.ctl.memberMu.Unlock()
}
