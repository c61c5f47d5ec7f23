package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anatolykoptev/go_music/internal/engine"
	"github.com/anatolykoptev/go_music/internal/engine/admission"
)

// Gate is the admission side of Submit.
type Gate interface {
	Admit(ctx context.Context, requester int64, kind engine.ProviderKind) admission.Decision
	TryMarkInFlight(requester int64) bool
	Release(requester int64)
}

// Dispatcher admits requests and places them on the fast or slow lane.
type Dispatcher struct {
	gate Gate
	fast *Lane[engine.Job]
	slow *Lane[engine.Job]
	now  func() time.Time
}

// NewDispatcher wires a gate to its two lanes.
func NewDispatcher(gate Gate, fast, slow *Lane[engine.Job]) *Dispatcher {
	return &Dispatcher{gate: gate, fast: fast, slow: slow, now: time.Now}
}

// NewJob stamps a job with a fresh id.
func NewJob(tier int, at time.Time, requester int64, kind engine.ProviderKind, resourceID string) engine.Job {
	return engine.Job{
		ID:         uuid.NewString(),
		Tier:       tier,
		EnqueuedAt: at,
		Requester:  requester,
		Provider:   kind,
		ResourceID: resourceID,
	}
}

// Submit runs admission and enqueues the job on success. The returned
// Decision always carries the user-facing text.
func (d *Dispatcher) Submit(ctx context.Context, requester int64, kind engine.ProviderKind, resourceID string) (admission.Decision, *engine.Job) {
	dec := d.gate.Admit(ctx, requester, kind)
	if !dec.Allowed {
		engine.IncrJobsDenied()
		return dec, nil
	}
	if !d.gate.TryMarkInFlight(requester) {
		engine.IncrJobsDenied()
		return admission.Decision{
			Denial: admission.DenialInFlight,
			Reason: "👉👈 Please wait until your previous download finishes...",
		}, nil
	}

	tier := engine.TierNormal
	if dec.Priority {
		tier = engine.TierElevated
	}
	job := NewJob(tier, d.now(), requester, kind, resourceID)

	lane := d.Lane(dec.Lane)
	if err := lane.Queue.TryPush(job.Tier, job.EnqueuedAt, job); err != nil {
		d.gate.Release(requester)
		engine.IncrJobsDenied()
		return admission.Decision{
			Denial:   admission.DenialQueueFull,
			Reason:   "😥 The server is overloaded right now. Please try again in a minute.",
			Lane:     dec.Lane,
			Priority: dec.Priority,
			Limit:    dec.Limit,
		}, nil
	}
	laneDepth.WithLabelValues(lane.Name).Set(float64(lane.Queue.Len()))
	engine.IncrJobsAdmitted()
	return dec, &job
}

// Lane returns the lane for a route.
func (d *Dispatcher) Lane(l admission.Lane) *Lane[engine.Job] {
	if l == admission.LaneSlow {
		return d.slow
	}
	return d.fast
}

// LaneStatus is a point-in-time view of one lane.
type LaneStatus struct {
	Name        string        `json:"name"`
	Waiting     int           `json:"waiting"`
	Pending     int           `json:"pending"`
	Capacity    int           `json:"capacity"`
	Workers     int           `json:"workers"`
	ServiceTime time.Duration `json:"service_time_ns"`
}

// Status reports both lanes.
func (d *Dispatcher) Status() []LaneStatus {
	out := make([]LaneStatus, 0, 2)
	for _, l := range []*Lane[engine.Job]{d.fast, d.slow} {
		out = append(out, LaneStatus{
			Name:        l.Name,
			Waiting:     l.Queue.Len(),
			Pending:     l.Queue.Pending(),
			Capacity:    l.Queue.Cap(),
			Workers:     l.Workers,
			ServiceTime: l.ServiceTime,
		})
	}
	return out
}
