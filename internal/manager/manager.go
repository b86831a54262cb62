// Package manager is the orchestrator facade: every control surface
// operation and every scheduled callback goes through it, so registry
// state, running timers and persistence can never disagree.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/fkusi/sensorhub/internal/alert"
	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/powermode"
	"github.com/fkusi/sensorhub/internal/registry"
	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/scheduler"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/fkusi/sensorhub/internal/telemetry"
)

type Manager struct {
	reg      *registry.Registry
	sched    *scheduler.Scheduler
	ctrl     *powermode.Controller
	gate     *alert.Gate
	recorder telemetry.Recorder
	dial     relay.Dialer

	// defaultInterval is applied to sensors registered without an
	// explicit polling interval, in seconds.
	defaultInterval int
}

func New(
	reg *registry.Registry,
	sched *scheduler.Scheduler,
	ctrl *powermode.Controller,
	gate *alert.Gate,
	recorder telemetry.Recorder,
	dial relay.Dialer,
	defaultInterval int,
) *Manager {
	if defaultInterval <= 0 {
		defaultInterval = 60
	}
	return &Manager{
		reg:             reg,
		sched:           sched,
		ctrl:            ctrl,
		gate:            gate,
		recorder:        recorder,
		dial:            dial,
		defaultInterval: defaultInterval,
	}
}

// RegisterInput is the payload for registering a new sensor.
type RegisterInput struct {
	Type            sensor.Type
	Name            string
	Location        string
	Address         string
	DeviceID        string
	MeterID         string
	UploadToken     string
	PowerMode       sensor.PowerMode
	PollingInterval int
}

// Register validates and stores a new sensor. The sensor starts
// turned off.
func (m *Manager) Register(input RegisterInput) (*sensor.Sensor, error) {
	errFactory := errors.New()

	if !input.Type.IsValid() {
		return nil, errFactory.WithData(ErrInvalidSensor, fmt.Sprintf("unknown sensor type %q", input.Type))
	}
	if input.Name == "" {
		return nil, errFactory.WithData(ErrInvalidSensor, "name is required")
	}

	switch input.Type {
	case sensor.TypeTempest, sensor.TypeWaterQuality:
		if !sensor.ValidDeviceID(input.DeviceID) {
			return nil, errFactory.WithData(ErrInvalidSensor, "a valid device_id is required for cloud sensors")
		}
	default:
		if !sensor.ValidAddress(input.Address) {
			return nil, errFactory.WithData(ErrInvalidAddress, input.Address)
		}
	}

	if input.Address != "" {
		for _, existing := range m.reg.List(input.Type) {
			if existing.Address == input.Address {
				return nil, errFactory.WithData(ErrDuplicate, input.Address)
			}
		}
	}

	if input.PowerMode == "" {
		input.PowerMode = sensor.PowerNormal
	}
	if !input.PowerMode.IsValid() {
		return nil, errFactory.WithData(ErrInvalidValue, string(input.PowerMode))
	}
	if input.PowerMode == sensor.PowerSaving && input.MeterID == "" {
		return nil, errFactory.New(ErrMeterNotLinked)
	}
	if input.MeterID != "" {
		if err := m.checkMeterLink(input.MeterID); err != nil {
			return nil, err
		}
	}

	interval := input.PollingInterval
	if interval <= 0 {
		interval = m.defaultInterval
	}
	if input.PowerMode == sensor.PowerSaving {
		// A duty-cycled interval is always a whole 5-minute step.
		interval = sensor.QuantizeSeconds(interval)
	}

	s := m.reg.Register(&sensor.Sensor{
		Type:            input.Type,
		Name:            input.Name,
		Location:        input.Location,
		Address:         input.Address,
		DeviceID:        input.DeviceID,
		MeterID:         input.MeterID,
		UploadToken:     input.UploadToken,
		PowerMode:       input.PowerMode,
		PollingInterval: interval,
	})

	m.saveQuiet()
	logger.Info().
		Str("sensor_id", s.ID).
		Str("type", string(s.Type)).
		Str("name", s.Name).
		Msg("Sensor registered")

	return s, nil
}

// Get returns a copy of one sensor.
func (m *Manager) Get(id string) (*sensor.Sensor, error) {
	s := m.reg.Get(id)
	if s == nil {
		return nil, errors.New().WithData(ErrNotFound, id)
	}
	return s, nil
}

// List returns all sensors, optionally filtered by type.
func (m *Manager) List(t sensor.Type) []*sensor.Sensor {
	return m.reg.List(t)
}

// UpdateFields changes the mutable descriptive fields of a sensor.
// Empty values leave the stored field untouched.
func (m *Manager) UpdateFields(id, name, location string) (*sensor.Sensor, error) {
	s, err := m.reg.Update(id, func(live *sensor.Sensor) {
		if name != "" {
			live.Name = name
		}
		if location != "" {
			live.Location = location
		}
	})
	if err != nil {
		return nil, err
	}

	m.saveQuiet()
	return s, nil
}

// Delete stops the sensor's jobs and removes it. Deleting an unknown
// sensor is an error; an in-flight fetch for a deleted sensor
// completes but its status write is dropped.
func (m *Manager) Delete(id string) error {
	if !m.reg.Exists(id) {
		return errors.New().WithData(ErrNotFound, id)
	}

	m.sched.Stop(id)
	m.reg.Delete(id)
	m.gate.Forget(id)
	m.saveQuiet()

	logger.Info().Str("sensor_id", id).Msg("Sensor deleted")
	return nil
}

// TurnOn marks the sensor active and schedules its polling jobs. In
// power-saving mode the sensor enters the sleeping state until its
// first pre-wake.
func (m *Manager) TurnOn(id string) (*sensor.Sensor, error) {
	s, err := m.reg.Update(id, func(live *sensor.Sensor) {
		live.IsActive = true
		if live.PowerMode == sensor.PowerSaving {
			live.Status = sensor.StatusSleeping
			live.StatusReason = ""
		}
	})
	if err != nil {
		return nil, err
	}

	m.startJobs(s)
	m.saveQuiet()

	logger.Info().Str("sensor_id", id).Str("name", s.Name).Msg("Sensor turned on")
	return s, nil
}

// TurnOff cancels future polling and marks the sensor inactive. This
// is a user decision, not a fault: the alert gate is never consulted.
func (m *Manager) TurnOff(id string) (*sensor.Sensor, error) {
	s, err := m.reg.Update(id, func(live *sensor.Sensor) {
		live.IsActive = false
		live.Status = sensor.StatusInactive
		live.StatusReason = ""
	})
	if err != nil {
		return nil, err
	}

	m.sched.Stop(id)
	m.saveQuiet()

	logger.Info().Str("sensor_id", id).Str("name", s.Name).Msg("Sensor turned off")
	return s, nil
}

// SetPowerMode switches between continuous and duty-cycled operation.
// Power saving requires a linked voltage meter; that is a validation
// error, never a runtime fault.
func (m *Manager) SetPowerMode(ctx context.Context, id string, mode sensor.PowerMode) (*sensor.Sensor, error) {
	errFactory := errors.New()

	if !mode.IsValid() {
		return nil, errFactory.WithData(ErrInvalidValue, string(mode))
	}

	current := m.reg.Get(id)
	if current == nil {
		return nil, errFactory.WithData(ErrNotFound, id)
	}

	if mode == sensor.PowerSaving {
		if current.MeterID == "" {
			return nil, errFactory.New(ErrMeterNotLinked)
		}
		if err := m.checkMeterLink(current.MeterID); err != nil {
			return nil, err
		}
	}

	leaving := current.PowerMode == sensor.PowerSaving && mode != sensor.PowerSaving

	s, err := m.reg.Update(id, func(live *sensor.Sensor) {
		live.PowerMode = mode
		if mode == sensor.PowerSaving {
			// A duty-cycled interval is always a whole 5-minute step.
			live.PollingInterval = sensor.QuantizeSeconds(live.PollingInterval)
		}
		if live.IsActive && mode == sensor.PowerSaving {
			live.Status = sensor.StatusSleeping
			live.StatusReason = ""
		}
	})
	if err != nil {
		return nil, err
	}

	if s.IsActive {
		// Atomic replace: the pre-wake timer appears or disappears
		// with the mode.
		m.startJobs(s)
	}
	if leaving {
		m.ctrl.LeavePowerSaving(ctx, s, m.meterAddr(s))
	}

	m.saveQuiet()
	logger.Info().Str("sensor_id", id).Str("mode", string(mode)).Msg("Power mode changed")
	return s, nil
}

// SetFrequency changes the polling frequency, quantized up to whole
// five-minute steps. A running sensor's timers are atomically
// replaced on the new interval.
func (m *Manager) SetFrequency(id string, minutes int) (*sensor.Sensor, error) {
	if !sensor.ValidFrequency(minutes) {
		return nil, errors.New().WithData(ErrInvalidValue, minutes)
	}

	interval := sensor.QuantizeInterval(minutes)
	s, err := m.reg.Update(id, func(live *sensor.Sensor) {
		live.PollingInterval = interval
	})
	if err != nil {
		return nil, err
	}

	if s.IsActive {
		m.startJobs(s)
	}

	m.saveQuiet()
	logger.Info().
		Str("sensor_id", id).
		Int("requested_minutes", minutes).
		Int("interval_seconds", interval).
		Msg("Polling frequency changed")
	return s, nil
}

// Resume restarts polling for every sensor that was on when the
// process last stopped.
func (m *Manager) Resume() {
	for _, s := range m.reg.List("") {
		if !s.IsActive {
			continue
		}
		m.startJobs(s)
		logger.Info().
			Str("sensor_id", s.ID).
			Str("name", s.Name).
			Msg("Polling resumed")
	}
}

// Shutdown stops every timer and writes a final snapshot.
func (m *Manager) Shutdown() {
	m.sched.Shutdown()
	if err := m.reg.Save(); err != nil {
		logger.Error().Err(err).Msg("Final store save failed")
	}
}

// startJobs installs the sensor's timers for its current mode and
// interval, replacing any previous ones.
func (m *Manager) startJobs(s *sensor.Sensor) {
	id := s.ID
	interval := time.Duration(s.PollingInterval) * time.Second

	if s.PowerMode == sensor.PowerSaving {
		m.sched.StartWithPreWake(id, interval, m.ctrl.WakeLead,
			func(ctx context.Context) { m.preWakeTick(ctx, id) },
			func(ctx context.Context) { m.pollTick(ctx, id) },
		)
		return
	}
	m.sched.Start(id, interval, func(ctx context.Context) { m.pollTick(ctx, id) })
}

// checkMeterLink verifies a meter id points at a registered voltage
// meter.
func (m *Manager) checkMeterLink(meterID string) error {
	errFactory := errors.New()

	meter := m.reg.Get(meterID)
	if meter == nil {
		return errFactory.WithData(ErrMeterNotLinked, meterID)
	}
	if meter.Type != sensor.TypeVoltageMeter {
		return errFactory.WithData(ErrMeterNotLinked,
			fmt.Sprintf("sensor %s is %s, not a voltage meter", meterID, meter.Type))
	}
	return nil
}

// meterAddr resolves the network address of a sensor's linked meter,
// or empty when there is none.
func (m *Manager) meterAddr(s *sensor.Sensor) string {
	if s.MeterID == "" {
		return ""
	}
	meter := m.reg.Get(s.MeterID)
	if meter == nil || meter.Type != sensor.TypeVoltageMeter {
		logger.Warn().
			Str("sensor_id", s.ID).
			Str("meter_id", s.MeterID).
			Msg("Meter link does not resolve to a voltage meter")
		return ""
	}
	return meter.Address
}

func (m *Manager) saveQuiet() {
	if err := m.reg.Save(); err != nil {
		logger.Error().Err(err).Msg("Store save failed")
	}
}
