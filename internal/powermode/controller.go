// Package powermode runs the device-facing half of a poll cycle:
// waking a duty-cycled sensor before its poll, cutting its power
// after, and folding the fetch outcome plus meter telemetry into a
// status classification.
package powermode

import (
	"context"
	"fmt"
	"time"

	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/classify"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/sensor"
)

const (
	// DefaultWakeLead is how long before the poll tick the relay is
	// switched on, covering sensor boot and wifi association.
	DefaultWakeLead = 30 * time.Second

	// DefaultRelayOffDelay is the trailing margin between the fetch
	// finishing and power-off, covering in-flight transfers.
	DefaultRelayOffDelay = 1 * time.Second
)

// CycleResult is everything one poll cycle produced.
type CycleResult struct {
	Outcome  adapter.Outcome
	Snapshot *relay.Snapshot
	Result   classify.Result
	Duration time.Duration
}

// Controller executes poll cycles. The lead and trail margins are
// fields so tests do not wait out real boot windows.
type Controller struct {
	adapters adapter.Registry
	dial     relay.Dialer

	WakeLead      time.Duration
	RelayOffDelay time.Duration
}

func NewController(adapters adapter.Registry, dial relay.Dialer) *Controller {
	return &Controller{
		adapters:      adapters,
		dial:          dial,
		WakeLead:      DefaultWakeLead,
		RelayOffDelay: DefaultRelayOffDelay,
	}
}

// Wake switches the sensor's relay on ahead of the poll tick. Best
// effort: a failed command is logged and the poll proceeds anyway.
func (c *Controller) Wake(ctx context.Context, s *sensor.Sensor, meterAddr string) bool {
	if meterAddr == "" {
		return false
	}

	if !c.dial(meterAddr).SetRelay(ctx, true) {
		logger.Warn().
			Str("sensor", s.Name).
			Str("meter", meterAddr).
			Msg("Pre-wake relay command failed")
		return false
	}

	logger.Debug().Str("sensor", s.Name).Msg("Pre-wake relay on")
	return true
}

// RunCycle performs one fetch-classify cycle. In power-saving mode it
// powers the sensor down afterwards regardless of the fetch result;
// the sensor must never be left drawing power because a fetch failed.
func (c *Controller) RunCycle(ctx context.Context, s *sensor.Sensor, meterAddr string) CycleResult {
	started := time.Now()
	outcome := c.fetch(ctx, s)

	if s.PowerMode == sensor.PowerSaving && meterAddr != "" {
		c.powerDown(ctx, s, meterAddr)
	}

	var snapshot *relay.Snapshot
	if meterAddr != "" {
		snap, err := c.dial(meterAddr).Status(ctx)
		if err != nil {
			logger.Warn().
				Str("sensor", s.Name).
				Str("meter", meterAddr).
				Err(err).
				Msg("Meter status read failed")
		} else {
			snapshot = snap
		}
	}

	return CycleResult{
		Outcome:  outcome,
		Snapshot: snapshot,
		Result:   classify.Classify(s.PowerMode, outcome, snapshot),
		Duration: time.Since(started),
	}
}

// LeavePowerSaving returns the meter to autonomous threshold control
// when duty-cycling stops, so the hardware no longer depends on this
// process for power decisions.
func (c *Controller) LeavePowerSaving(ctx context.Context, s *sensor.Sensor, meterAddr string) {
	if meterAddr == "" {
		return
	}

	if !c.dial(meterAddr).SetAutoMode(ctx, true) {
		logger.Warn().
			Str("sensor", s.Name).
			Str("meter", meterAddr).
			Msg("Auto-mode relay command failed")
		return
	}

	logger.Info().Str("sensor", s.Name).Msg("Meter returned to auto mode")
}

func (c *Controller) fetch(ctx context.Context, s *sensor.Sensor) adapter.Outcome {
	fp, ok := c.adapters[s.Type]
	if !ok {
		return adapter.Failure(adapter.KindUnknown,
			fmt.Sprintf("no adapter for sensor type %q", s.Type))
	}
	return fp.FetchAndPush(ctx, s)
}

func (c *Controller) powerDown(ctx context.Context, s *sensor.Sensor, meterAddr string) {
	select {
	case <-ctx.Done():
	case <-time.After(c.RelayOffDelay):
	}

	if !c.dial(meterAddr).SetRelay(ctx, false) {
		logger.Warn().
			Str("sensor", s.Name).
			Str("meter", meterAddr).
			Msg("Relay off command failed")
	}
}
