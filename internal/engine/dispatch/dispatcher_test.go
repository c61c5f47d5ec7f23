package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
)

type scriptedGate struct {
	decision admission.Decision
	busy     map[int64]bool
	released []int64
}

func (g *scriptedGate) Admit(context.Context, int64, engine.ProviderKind) admission.Decision {
	return g.decision
}

func (g *scriptedGate) TryMarkInFlight(id int64) bool {
	if g.busy[id] {
		return false
	}
	g.busy[id] = true
	return true
}

func (g *scriptedGate) Release(id int64) {
	delete(g.busy, id)
	g.released = append(g.released, id)
}

func newTestDispatcher(dec admission.Decision, fastCap, slowCap int) (*Dispatcher, *scriptedGate) {
	g := &scriptedGate{decision: dec, busy: map[int64]bool{}}
	fast := NewLane[engine.Job]("fast", fastCap, 1, 15*time.Second, nil)
	slow := NewLane[engine.Job]("slow", slowCap, 1, 45*time.Second, nil)
	return NewDispatcher(g, fast, slow), g
}

func TestSubmitEnqueuesOnRoutedLane(t *testing.T) {
	d, g := newTestDispatcher(admission.Decision{Allowed: true, Lane: admission.LaneSlow, Priority: true}, 5, 5)

	dec, job := d.Submit(context.Background(), 1, engine.KindYandex, "trk")
	require.True(t, dec.Allowed)
	require.NotNil(t, job)
	assert.Equal(t, engine.TierElevated, job.Tier)
	assert.Equal(t, 1, d.slow.Queue.Len())
	assert.Equal(t, 0, d.fast.Queue.Len())
	assert.True(t, g.busy[1])
}

func TestSubmitDenied(t *testing.T) {
	d, g := newTestDispatcher(admission.Decision{Denial: admission.DenialQuota, Reason: "limit"}, 5, 5)

	dec, job := d.Submit(context.Background(), 1, engine.KindSaavn, "x")
	assert.False(t, dec.Allowed)
	assert.Nil(t, job)
	assert.Equal(t, "limit", dec.Reason)
	assert.False(t, g.busy[1])
}

func TestSubmitRaceOnInFlight(t *testing.T) {
	d, g := newTestDispatcher(admission.Decision{Allowed: true, Lane: admission.LaneFast}, 5, 5)
	g.busy[1] = true

	dec, job := d.Submit(context.Background(), 1, engine.KindSaavn, "x")
	assert.Nil(t, job)
	assert.Equal(t, admission.DenialInFlight, dec.Denial)
	assert.Equal(t, 0, d.fast.Queue.Len())
}

func TestSubmitQueueFullReleasesSlot(t *testing.T) {
	d, g := newTestDispatcher(admission.Decision{Allowed: true, Lane: admission.LaneFast}, 1, 1)
	require.NoError(t, d.fast.Queue.TryPush(1, time.Now(), engine.Job{}))

	dec, job := d.Submit(context.Background(), 3, engine.KindYouTube, "x")
	assert.Nil(t, job)
	assert.Equal(t, admission.DenialQueueFull, dec.Denial)
	assert.Equal(t, []int64{3}, g.released)
	assert.False(t, g.busy[3])
}

func TestDispatcherStatus(t *testing.T) {
	d, _ := newTestDispatcher(admission.Decision{Allowed: true}, 200, 50)
	st := d.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "fast", st[0].Name)
	assert.Equal(t, 200, st[0].Capacity)
	assert.Equal(t, "slow", st[1].Name)
	assert.Equal(t, 45*time.Second, st[1].ServiceTime)
}
