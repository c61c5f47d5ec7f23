package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// ErrPanicked wraps a value recovered from a panicking handler.
var ErrPanicked = errors.New("job handler panicked")

// Handler processes values taken from a lane.
// Fail is invoked once for a failed or panicked Handle; Finish always.
type Handler[T any] interface {
	Handle(ctx context.Context, v T) error
	Fail(ctx context.Context, v T, err error)
	Finish(v T)
}

// Lane is a queue drained by a fixed set of workers.
type Lane[T any] struct {
	Name        string
	Queue       *Queue[T]
	Workers     int
	ServiceTime time.Duration // per-job estimate shown to requesters
	Handler     Handler[T]
}

// NewLane builds a lane with a fresh queue of the given capacity.
func NewLane[T any](name string, capacity, workers int, serviceTime time.Duration, h Handler[T]) *Lane[T] {
	return &Lane[T]{
		Name:        name,
		Queue:       NewQueue[T](capacity),
		Workers:     workers,
		ServiceTime: serviceTime,
		Handler:     h,
	}
}

// Serve runs the workers until ctx is done. Implements suture.Service.
func (l *Lane[T]) Serve(ctx context.Context) error {
	workers := max(l.Workers, 1)
	slog.Info("lane started", slog.String("lane", l.Name), slog.Int("workers", workers))

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.worker(ctx, i)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (l *Lane[T]) String() string { return "lane-" + l.Name }

func (l *Lane[T]) worker(ctx context.Context, id int) {
	for {
		v, err := l.Queue.Pop(ctx)
		if err != nil {
			return
		}
		laneDepth.WithLabelValues(l.Name).Set(float64(l.Queue.Len()))
		l.process(ctx, id, v)
	}
}

// process runs one job. A panic is contained here so the worker survives.
func (l *Lane[T]) process(ctx context.Context, id int, v T) {
	start := time.Now()
	busy := laneBusyWorkers.WithLabelValues(l.Name)
	busy.Inc()

	outcome := "ok"
	defer func() {
		busy.Dec()
		laneJobs.WithLabelValues(l.Name, outcome).Inc()
		laneJobDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	}()
	defer l.Queue.Done()
	defer l.finish(v)
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			engine.IncrJobsPanicked()
			slog.Error("lane: handler panic",
				slog.String("lane", l.Name),
				slog.Int("worker", id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			l.fail(ctx, v, fmt.Errorf("%w: %v", ErrPanicked, r))
		}
	}()

	if err := l.Handler.Handle(ctx, v); err != nil {
		outcome = "failed"
		l.fail(ctx, v, err)
	}
}

func (l *Lane[T]) fail(ctx context.Context, v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lane: fail hook panic", slog.String("lane", l.Name), slog.Any("panic", r))
		}
	}()
	l.Handler.Fail(ctx, v, err)
}

func (l *Lane[T]) finish(v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lane: finish hook panic", slog.String("lane", l.Name), slog.Any("panic", r))
		}
	}()
	l.Handler.Finish(v)
}
