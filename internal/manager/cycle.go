package manager

import (
	"context"
	"time"

	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/powermode"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/fkusi/sensorhub/internal/telemetry"
)

// FetchNow runs one poll cycle synchronously, outside the schedule.
// It walks the exact same path as a scheduled tick, so status,
// last_active and telemetry stay consistent between the two.
func (m *Manager) FetchNow(ctx context.Context, id string) (adapter.Outcome, *sensor.Sensor, error) {
	if !m.reg.Exists(id) {
		return adapter.Outcome{}, nil, errors.New().WithData(ErrNotFound, id)
	}

	outcome, updated := m.runCycle(ctx, id)
	if updated == nil {
		// Deleted between the check and the cycle finishing.
		return adapter.Outcome{}, nil, errors.New().WithData(ErrNotFound, id)
	}
	return outcome, updated, nil
}

// pollTick is the scheduled main timer callback.
func (m *Manager) pollTick(ctx context.Context, id string) {
	m.runCycle(ctx, id)
}

// preWakeTick powers a duty-cycled sensor on ahead of its poll.
func (m *Manager) preWakeTick(ctx context.Context, id string) {
	s := m.reg.Get(id)
	if s == nil || !s.IsActive || s.PowerMode != sensor.PowerSaving {
		return
	}

	m.ctrl.Wake(ctx, s, m.meterAddr(s))

	if _, err := m.reg.Update(id, func(live *sensor.Sensor) {
		if live.IsActive && live.PowerMode == sensor.PowerSaving {
			live.Status = sensor.StatusWaking
			live.StatusReason = ""
		}
	}); err != nil {
		return
	}
	m.saveQuiet()
}

// runCycle executes one fetch-classify-store cycle. A tick for a
// deleted sensor is a silent no-op, and a sensor deleted while its
// fetch was in flight gets no status write.
func (m *Manager) runCycle(ctx context.Context, id string) (adapter.Outcome, *sensor.Sensor) {
	s := m.reg.Get(id)
	if s == nil {
		return adapter.Outcome{}, nil
	}

	res := m.ctrl.RunCycle(ctx, s, m.meterAddr(s))
	from := s.Status

	turnedOff := false
	updated, err := m.reg.Update(id, func(live *sensor.Sensor) {
		if !live.IsActive {
			// Turned off while the fetch was in flight. The user's
			// INACTIVE wins over the late classification.
			turnedOff = true
			return
		}
		live.Status = res.Result.Status
		live.StatusReason = res.Result.Reason

		if res.Outcome.OK {
			now := time.Now().UTC()
			live.LastActive = &now
			live.LastError = ""
		} else {
			live.LastError = res.Outcome.Message
		}

		if res.Snapshot != nil {
			taken := res.Snapshot.Taken
			live.Meter = sensor.MeterState{
				BatteryVolts: res.Snapshot.Voltage,
				RelayOn:      res.Snapshot.RelayOn,
				AutoMode:     res.Snapshot.AutoMode,
				VCutoff:      res.Snapshot.VCutoff,
				VReconnect:   res.Snapshot.VReconnect,
				UpdatedAt:    &taken,
			}
		}
	})
	if err != nil {
		logger.Debug().Str("sensor_id", id).Msg("Dropping cycle result for deleted sensor")
		return res.Outcome, nil
	}
	if turnedOff {
		logger.Debug().Str("sensor_id", id).Msg("Dropping cycle result for turned-off sensor")
		return res.Outcome, updated
	}

	m.recordCycle(ctx, updated, res)
	m.gate.Observe(ctx, updated, from)
	m.saveQuiet()

	return res.Outcome, updated
}

func (m *Manager) recordCycle(ctx context.Context, s *sensor.Sensor, res powermode.CycleResult) {
	rec := &telemetry.CycleRecord{
		Timestamp:  time.Now().UTC(),
		SensorID:   s.ID,
		SensorType: s.Type,
		Status:     s.Status,
		Reason:     s.StatusReason,
		Success:    res.Outcome.OK,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Snapshot != nil {
		rec.BatteryVolts = res.Snapshot.Voltage
		rec.RelayOn = res.Snapshot.RelayOn
	}

	if err := m.recorder.Record(ctx, rec); err != nil {
		logger.Error().Err(err).Str("sensor_id", s.ID).Msg("Telemetry record failed")
	}
}
