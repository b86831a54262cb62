package manager

import (
	"context"
	"fmt"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/sensor"
)

// Relay mode values accepted by SetRelayMode.
const (
	RelayModeOn   = "on"
	RelayModeOff  = "off"
	RelayModeAuto = "auto"
)

// relayTarget resolves the meter address a command should go to: a
// voltage meter is addressed directly, any other sensor goes through
// its linked meter.
func (m *Manager) relayTarget(id string) (*sensor.Sensor, string, error) {
	errFactory := errors.New()

	s := m.reg.Get(id)
	if s == nil {
		return nil, "", errFactory.WithData(ErrNotFound, id)
	}

	if s.Type == sensor.TypeVoltageMeter {
		return s, s.Address, nil
	}

	addr := m.meterAddr(s)
	if addr == "" {
		return nil, "", errFactory.WithData(ErrMeterNotLinked, id)
	}
	return s, addr, nil
}

// SetRelayMode forces the relay on or off, or returns it to
// autonomous threshold control. The requested mode is recorded as a
// pending command until the device confirms it.
func (m *Manager) SetRelayMode(ctx context.Context, id, mode string) (*sensor.Sensor, error) {
	errFactory := errors.New()

	if mode != RelayModeOn && mode != RelayModeOff && mode != RelayModeAuto {
		return nil, errFactory.WithData(ErrInvalidValue, mode)
	}

	s, addr, err := m.relayTarget(id)
	if err != nil {
		return nil, err
	}

	if _, err := m.reg.Update(s.ID, func(live *sensor.Sensor) {
		live.Pending.RelayMode = mode
	}); err != nil {
		return nil, err
	}

	port := m.dial(addr)
	var ok bool
	if mode == RelayModeAuto {
		ok = port.SetAutoMode(ctx, true)
	} else {
		ok = port.SetRelay(ctx, mode == RelayModeOn)
	}

	if !ok {
		// Keep the pending command: the intent is visible on the
		// sensor until a later cycle or retry confirms it.
		m.saveQuiet()
		logger.Warn().Str("sensor_id", s.ID).Str("mode", mode).Msg("Relay command not confirmed")
		return nil, errFactory.WithData(ErrMeterCommand, addr)
	}

	updated, err := m.reg.Update(s.ID, func(live *sensor.Sensor) {
		live.Pending.RelayMode = ""
		switch mode {
		case RelayModeAuto:
			live.Meter.AutoMode = true
		case RelayModeOn:
			live.Meter.RelayOn = true
			live.Meter.AutoMode = false
		case RelayModeOff:
			live.Meter.RelayOn = false
			live.Meter.AutoMode = false
		}
	})
	if err != nil {
		return nil, err
	}

	m.saveQuiet()
	logger.Info().Str("sensor_id", s.ID).Str("mode", mode).Msg("Relay mode set")
	return updated, nil
}

// SetThresholds updates the meter's battery cutoff and reconnect
// voltages.
func (m *Manager) SetThresholds(ctx context.Context, id string, cutoff, reconnect float64) (*sensor.Sensor, error) {
	errFactory := errors.New()

	if cutoff <= 0 || reconnect <= cutoff {
		return nil, errFactory.WithData(ErrInvalidValue,
			fmt.Sprintf("cutoff %.2f / reconnect %.2f", cutoff, reconnect))
	}

	s, addr, err := m.relayTarget(id)
	if err != nil {
		return nil, err
	}

	if !m.dial(addr).SetThresholds(ctx, cutoff, reconnect) {
		return nil, errFactory.WithData(ErrMeterCommand, addr)
	}

	updated, err := m.reg.Update(s.ID, func(live *sensor.Sensor) {
		live.Meter.VCutoff = cutoff
		live.Meter.VReconnect = reconnect
	})
	if err != nil {
		return nil, err
	}

	m.saveQuiet()
	logger.Info().
		Str("sensor_id", s.ID).
		Float64("cutoff", cutoff).
		Float64("reconnect", reconnect).
		Msg("Meter thresholds set")
	return updated, nil
}

// Calibrate asks the meter to derive a new calibration factor from a
// reference voltage measured externally.
func (m *Manager) Calibrate(ctx context.Context, id string, target float64) (*sensor.Sensor, error) {
	errFactory := errors.New()

	if target <= 0 {
		return nil, errFactory.WithData(ErrInvalidValue, target)
	}

	s, addr, err := m.relayTarget(id)
	if err != nil {
		return nil, err
	}

	if _, err := m.reg.Update(s.ID, func(live *sensor.Sensor) {
		live.Pending.CalibrationTarget = &target
	}); err != nil {
		return nil, err
	}

	if err := m.dial(addr).Calibrate(ctx, target); err != nil {
		m.saveQuiet()
		return nil, errFactory.Wrap(ErrMeterCommand, err)
	}

	updated, err := m.reg.Update(s.ID, func(live *sensor.Sensor) {
		live.Pending.CalibrationTarget = nil
	})
	if err != nil {
		return nil, err
	}

	m.saveQuiet()
	logger.Info().
		Str("sensor_id", s.ID).
		Float64("target", target).
		Msg("Meter calibration requested")
	return updated, nil
}
