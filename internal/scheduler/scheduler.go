package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fkusi/sensorhub/internal/logger"
)

// Callback is one scheduled unit of work for a sensor. It receives a
// context that is cancelled when the scheduler shuts down.
type Callback func(ctx context.Context)

// job is one running timer goroutine.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler drives the recurring per-sensor fetch jobs. Each sensor
// owns at most one main timer and at most one pre-wake timer; any
// frequency or mode change is an atomic replace, stop-old-then-start-
// new, so there is no window where two timers fire for the same
// sensor.
type Scheduler struct {
	mu      sync.Mutex
	main    map[string]*job
	prewake map[string]*job
	base    context.Context
	cancel  context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		main:    make(map[string]*job),
		prewake: make(map[string]*job),
		base:    ctx,
		cancel:  cancel,
	}
}

// Start creates or atomically replaces the main recurring timer for a
// sensor. The first tick fires after one full interval.
func (s *Scheduler) Start(id string, interval time.Duration, fn Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(s.main, id)
	s.stopLocked(s.prewake, id)
	s.main[id] = s.spawn(id, interval, interval, fn)

	logger.Debug().Str("sensor_id", id).Dur("interval", interval).Msg("Polling job started")
}

// StartWithPreWake creates or atomically replaces both timers for a
// duty-cycled sensor: the main timer on the polling interval and a
// pre-wake timer firing lead before each main tick.
func (s *Scheduler) StartWithPreWake(id string, interval, lead time.Duration, prefn, fn Callback) {
	if lead >= interval {
		lead = interval / 2
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(s.main, id)
	s.stopLocked(s.prewake, id)
	s.main[id] = s.spawn(id, interval, interval, fn)
	s.prewake[id] = s.spawn(id, interval-lead, interval, prefn)

	logger.Debug().
		Str("sensor_id", id).
		Dur("interval", interval).
		Dur("lead", lead).
		Msg("Polling job started with pre-wake")
}

// Stop cancels the sensor's timers. Idempotent: stopping a sensor
// with no jobs is a no-op.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(s.main, id)
	s.stopLocked(s.prewake, id)
}

// Running reports whether the sensor has an active main timer.
func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.main[id]
	return ok
}

// HasPreWake reports whether the sensor has an active pre-wake timer.
func (s *Scheduler) HasPreWake(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.prewake[id]
	return ok
}

// Shutdown cancels every job and waits for running callbacks to
// return.
func (s *Scheduler) Shutdown() {
	s.cancel()

	s.mu.Lock()
	jobs := make([]*job, 0, len(s.main)+len(s.prewake))
	for id, j := range s.main {
		jobs = append(jobs, j)
		delete(s.main, id)
	}
	for id, j := range s.prewake {
		jobs = append(jobs, j)
		delete(s.prewake, id)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func (s *Scheduler) stopLocked(m map[string]*job, id string) {
	j, ok := m[id]
	if !ok {
		return
	}
	delete(m, id)
	j.cancel()
	<-j.done
}

// spawn starts a timer goroutine that fires first after initial and
// then every interval. Each tick runs the callback inline in the
// job's own goroutine, so a slow fetch delays only its own sensor;
// panics are contained and logged, never propagated into the
// scheduler.
func (s *Scheduler) spawn(id string, initial, interval time.Duration, fn Callback) *job {
	ctx, cancel := context.WithCancel(s.base)
	j := &job{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(j.done)

		timer := time.NewTimer(initial)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			runIsolated(ctx, id, fn)
		}

		// A ticker keeps subsequent ticks on the wall-clock lattice
		// even when a callback runs long, so the pre-wake and main
		// timers of a duty-cycled sensor stay aligned.
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runIsolated(ctx, id, fn)
			}
		}
	}()

	return j
}

func runIsolated(ctx context.Context, id string, fn Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Str("sensor_id", id).
				Interface("panic", rec).
				Msg("Recovered panic in polling callback")
		}
	}()

	fn(ctx)
}
