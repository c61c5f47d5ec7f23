// Package admission decides whether a download request may enter a lane.
// It owns the in-flight set, the membership cache and the search cooldowns.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// Denial classifies a rejected request.
type Denial string

const (
	DenialNone        Denial = ""
	DenialMembership  Denial = "membership"
	DenialInFlight    Denial = "in_flight"
	DenialQuota       Denial = "quota"
	DenialQueueFull   Denial = "queue_full"
	DenialUnavailable Denial = "unavailable"
)

// Lane names a dispatch lane.
type Lane string

const (
	LaneFast Lane = "fast"
	LaneSlow Lane = "slow"
)

// QueueGauge exposes the occupancy of a lane's queue.
type QueueGauge interface {
	Len() int
	Cap() int
	Full() bool
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed  bool
	Reason   string // user-facing text
	Denial   Denial
	Lane     Lane
	Position int
	Wait     time.Duration
	Priority bool // elevated tier
	Limit    int
}

// Options configures a Controller. Zero values fall back to the defaults below.
type Options struct {
	PrimaryChannel  string
	ElevatedChannel string
	BaseLimit       int
	ElevatedLimit   int
	QuotaWindow     time.Duration
	MembershipTTL   time.Duration
	SearchCooldown  time.Duration
	FastServiceTime time.Duration
	SlowServiceTime time.Duration
	Now             func() time.Time
}

// Defaults.
const (
	DefaultBaseLimit       = 5
	DefaultElevatedLimit   = 42
	DefaultQuotaWindow     = 24 * time.Hour
	DefaultMembershipTTL   = 300 * time.Second
	DefaultSearchCooldown  = 8 * time.Second
	DefaultFastServiceTime = 15 * time.Second
	DefaultSlowServiceTime = 45 * time.Second
)

type memberKey struct {
	requester int64
	channel   string
}

type memberEntry struct {
	member  bool
	expires time.Time
}

type cooldown struct {
	limiter *rate.Limiter
	last    time.Time
}

// Controller is the admission gate. Safe for concurrent use.
type Controller struct {
	opts      Options
	members   Membership
	downloads engine.DownloadLog
	fast      QueueGauge
	slow      QueueGauge

	mu       sync.Mutex
	inflight map[int64]struct{}

	memberMu    sync.Mutex
	memberCache map[memberKey]memberEntry

	coolMu    sync.Mutex
	cooldowns map[int64]*cooldown
}

// New builds a Controller.
func New(opts Options, members Membership, downloads engine.DownloadLog, fast, slow QueueGauge) *Controller {
	if opts.BaseLimit <= 0 {
		opts.BaseLimit = DefaultBaseLimit
	}
	if opts.ElevatedLimit <= 0 {
		opts.ElevatedLimit = DefaultElevatedLimit
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = DefaultQuotaWindow
	}
	if opts.MembershipTTL <= 0 {
		opts.MembershipTTL = DefaultMembershipTTL
	}
	if opts.SearchCooldown <= 0 {
		opts.SearchCooldown = DefaultSearchCooldown
	}
	if opts.FastServiceTime <= 0 {
		opts.FastServiceTime = DefaultFastServiceTime
	}
	if opts.SlowServiceTime <= 0 {
		opts.SlowServiceTime = DefaultSlowServiceTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		opts:        opts,
		members:     members,
		downloads:   downloads,
		fast:        fast,
		slow:        slow,
		inflight:    make(map[int64]struct{}),
		memberCache: make(map[memberKey]memberEntry),
		cooldowns:   make(map[int64]*cooldown),
	}
}

// RouteFor returns the lane serving a provider kind. Only the primary
// catalog is slow.
func RouteFor(kind engine.ProviderKind) Lane {
	if kind == engine.KindYandex {
		return LaneSlow
	}
	return LaneFast
}

// Err is nil for an admitted request and wraps engine.ErrAdmissionDenied
// with the denial class otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%s: %w", d.Denial, engine.ErrAdmissionDenied)
}

func deny(d Denial, reason string) Decision {
	return Decision{Denial: d, Reason: reason}
}

// Admit runs the checks in order and stops at the first failure.
// It has no side effects beyond the membership cache.
func (c *Controller) Admit(ctx context.Context, requester int64, kind engine.ProviderKind) Decision {
	ok, err := c.IsMember(ctx, requester, c.opts.PrimaryChannel)
	if err != nil {
		slog.Warn("admission: membership lookup failed",
			slog.Int64("requester", requester), slog.Any("error", err))
	}
	if !ok {
		return deny(DenialMembership, fmt.Sprintf(
			"🤨 You need to join %s to use the bot.\n\nAfter joining, press the download button again 🔄",
			c.opts.PrimaryChannel))
	}

	if c.InFlight(requester) {
		return deny(DenialInFlight, "👉👈 Please wait until your previous download finishes...")
	}

	elevated := false
	if c.opts.ElevatedChannel != "" {
		// Errors here only cost the elevated tier.
		elevated, _ = c.IsMember(ctx, requester, c.opts.ElevatedChannel)
	}
	limit := c.opts.BaseLimit
	if elevated {
		limit = c.opts.ElevatedLimit
	}

	used, err := c.downloads.CountDownloadsSince(ctx, requester, c.opts.Now().Add(-c.opts.QuotaWindow))
	if err != nil {
		slog.Error("admission: quota lookup failed",
			slog.Int64("requester", requester), slog.Any("error", err))
		d := deny(DenialUnavailable, "😥 Something went wrong. Please try again in a minute.")
		d.Priority, d.Limit = elevated, limit
		return d
	}
	if used >= limit {
		msg := fmt.Sprintf("💀 You have reached the daily limit of %d tracks. The limit resets every 24 hours...", limit)
		if !elevated && c.opts.ElevatedChannel != "" {
			msg += fmt.Sprintf("\n\n✨ To raise the limit to %d tracks, join: %s", c.opts.ElevatedLimit, c.opts.ElevatedChannel)
		}
		d := deny(DenialQuota, msg)
		d.Priority, d.Limit = elevated, limit
		return d
	}

	lane := RouteFor(kind)
	gauge, service := c.fast, c.opts.FastServiceTime
	if lane == LaneSlow {
		gauge, service = c.slow, c.opts.SlowServiceTime
	}
	if gauge.Full() {
		d := deny(DenialQueueFull, "😥 The server is overloaded right now. Please try again in a minute.")
		d.Priority, d.Limit, d.Lane = elevated, limit, lane
		return d
	}

	position := gauge.Len() + 1
	wait := time.Duration(position) * service
	return Decision{
		Allowed:  true,
		Reason:   queuedMessage(position, wait, elevated),
		Lane:     lane,
		Position: position,
		Wait:     wait,
		Priority: elevated,
		Limit:    limit,
	}
}

func queuedMessage(position int, wait time.Duration, elevated bool) string {
	status := ""
	if elevated {
		status = " (VIP priority ✨)"
	}
	msg := fmt.Sprintf("✅ You are in the queue%s.\nPosition: %d.", status, position)
	if minutes := int(wait / time.Minute); minutes > 0 {
		msg += fmt.Sprintf(" Estimated wait: ~%d min.", minutes)
	}
	return msg
}

// --- In-flight set ---

// TryMarkInFlight atomically claims the requester's single in-flight slot.
func (c *Controller) TryMarkInFlight(requester int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[requester]; busy {
		return false
	}
	c.inflight[requester] = struct{}{}
	return true
}

// Release frees the requester's in-flight slot. Releasing a free slot is a no-op.
func (c *Controller) Release(requester int64) {
	c.mu.Lock()
	delete(c.inflight, requester)
	c.mu.Unlock()
}

// InFlight reports whether the requester has a job queued or running.
func (c *Controller) InFlight(requester int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[requester]
	return busy
}

// --- Membership ---

// IsMember reports channel membership through the TTL cache.
// An empty channel admits everyone. A definitive bad-request answer is
// cached as "not a member"; other errors deny without caching.
func (c *Controller) IsMember(ctx context.Context, requester int64, channel string) (bool, error) {
	if channel == "" {
		return true, nil
	}
	key := memberKey{requester: requester, channel: channel}
	now := c.opts.Now()

	c.memberMu.Lock()
	if e, ok := c.memberCache[key]; ok && now.Before(e.expires) {
		c.memberMu.Unlock()
		return e.member, nil
	}
	c.memberMu.Unlock()

	member, err := c.members.IsMember(ctx, channel, requester)
	switch {
	case err == nil:
		c.storeMember(key, member, now)
		return member, nil
	case errors.Is(err, engine.ErrMembershipBadRequest):
		c.storeMember(key, false, now)
		return false, nil
	default:
		return false, err
	}
}

func (c *Controller) storeMember(key memberKey, member bool, now time.Time) {
	c.memberMu.Lock()
	c.memberCache[key] = memberEntry{member: member, expires: now.Add(c.opts.MembershipTTL)}
	c.memberMu.Unlock()
}

// --- Search cooldown ---

// CheckSearch enforces the per-requester search cooldown. On refusal it
// returns the whole seconds remaining.
func (c *Controller) CheckSearch(requester int64) (remaining int, ok bool) {
	now := c.opts.Now()

	c.coolMu.Lock()
	defer c.coolMu.Unlock()

	cd, exists := c.cooldowns[requester]
	if !exists {
		cd = &cooldown{limiter: rate.NewLimiter(rate.Every(c.opts.SearchCooldown), 1)}
		c.cooldowns[requester] = cd
	}
	r := cd.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return int(math.Ceil(delay.Seconds())), false
	}
	cd.last = now
	return 0, true
}

// CooldownMessage renders a cooldown refusal.
func CooldownMessage(remaining int) string {
	return fmt.Sprintf("You are sending requests too often 😤. Wait %d sec.", remaining)
}

// Sweep drops idle cooldown limiters and expired membership entries.
func (c *Controller) Sweep() {
	now := c.opts.Now()

	c.coolMu.Lock()
	for id, cd := range c.cooldowns {
		if now.Sub(cd.last) >= c.opts.SearchCooldown {
			delete(c.cooldowns, id)
		}
	}
	c.coolMu.Unlock()

	c.memberMu.Lock()
	for k, e := range c.memberCache {
		if !now.Before(e.expires) {
			delete(c.memberCache, k)
		}
	}
	c.memberMu.Unlock()
}

// Serve sweeps periodically until ctx is done. Implements suture.Service.
func (c *Controller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Controller) String() string { return "admission-sweeper" }
