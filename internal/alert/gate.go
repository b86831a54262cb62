// Package alert decides when a status change is worth telling a human
// about and delivers it through a pluggable sink.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/sensor"
)

// DefaultCooldown bounds how often a flapping sensor may alert.
const DefaultCooldown = 300 * time.Second

// expectedTransition reports whether a status change is part of a
// normal power-saving cycle rather than a fault. A duty-cycled sensor
// oscillates between sleeping and inactive as its relay switches.
func expectedTransition(from, to sensor.Status) bool {
	switch {
	case from == sensor.StatusSleeping && to == sensor.StatusInactive:
		return true
	case from == sensor.StatusInactive && to == sensor.StatusSleeping:
		return true
	case from == sensor.StatusWaking && to == sensor.StatusSleeping:
		return true
	}
	return false
}

// isFault reports a healthy-to-faulted transition worth alerting on.
func isFault(from, to sensor.Status) bool {
	return from.IsHealthy() && !to.IsHealthy() && !expectedTransition(from, to)
}

// isRecovery reports a faulted-to-healthy transition.
func isRecovery(from, to sensor.Status) bool {
	return !from.IsHealthy() && to.IsHealthy() && !expectedTransition(from, to)
}

type gateEntry struct {
	lastFault    time.Time
	lastRecovery time.Time
}

// Gate suppresses alert storms: it fires on status transitions only,
// ignores expected power-cycling pairs, and enforces a per-sensor
// cooldown. A recovery resets the fault cooldown so the next real
// fault alerts immediately.
type Gate struct {
	mu       sync.Mutex
	sent     map[string]*gateEntry
	sink     Sink
	cooldown time.Duration

	// now is a field so tests can control the clock.
	now func() time.Time
}

func NewGate(sink Sink, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		sent:     make(map[string]*gateEntry),
		sink:     sink,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Observe evaluates one classified status change. s carries the new
// status; from is the status before the cycle ran.
func (g *Gate) Observe(ctx context.Context, s *sensor.Sensor, from sensor.Status) {
	to := s.Status

	switch {
	case isFault(from, to):
		if !g.allowFault(s.ID) {
			logger.Debug().
				Str("sensor", s.Name).
				Str("status", string(to)).
				Msg("Fault alert suppressed by cooldown")
			return
		}
		if !g.sink.SendFault(ctx, g.event(s)) {
			logger.Warn().Str("sensor", s.Name).Msg("Fault alert delivery failed")
		}
	case isRecovery(from, to):
		if !g.allowRecovery(s.ID) {
			return
		}
		if !g.sink.SendRecovery(ctx, g.event(s)) {
			logger.Warn().Str("sensor", s.Name).Msg("Recovery alert delivery failed")
		}
	}
}

// Forget drops gate state for a deleted sensor.
func (g *Gate) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sent, id)
}

func (g *Gate) allowFault(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(id)
	if !e.lastFault.IsZero() && g.now().Sub(e.lastFault) < g.cooldown {
		return false
	}
	e.lastFault = g.now()
	return true
}

func (g *Gate) allowRecovery(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entry(id)
	if !e.lastRecovery.IsZero() && g.now().Sub(e.lastRecovery) < g.cooldown {
		return false
	}
	e.lastRecovery = g.now()
	// A recovered sensor that faults again should alert right away.
	e.lastFault = time.Time{}
	return true
}

func (g *Gate) entry(id string) *gateEntry {
	e, ok := g.sent[id]
	if !ok {
		e = &gateEntry{}
		g.sent[id] = e
	}
	return e
}

func (g *Gate) event(s *sensor.Sensor) Event {
	message := s.LastError
	if message == "" {
		message = s.StatusReason
	}
	return Event{
		SensorID: s.ID,
		Name:     s.Name,
		Type:     s.Type,
		Location: s.Location,
		Status:   s.Status,
		Message:  message,
		At:       g.now().UTC(),
	}
}
