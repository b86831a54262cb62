package telemetry

import (
	"context"
	"time"

	"github.com/fkusi/sensorhub/internal/sensor"
)

// Recorder persists poll-cycle history.
type Recorder interface {
	Record(ctx context.Context, rec *CycleRecord) error
	Close() error
}

// CycleRecord captures the outcome of one fetch cycle for one sensor.
type CycleRecord struct {
	Timestamp    time.Time
	SensorID     string
	SensorType   sensor.Type
	Status       sensor.Status
	Reason       string
	Success      bool
	DurationMS   int64
	BatteryVolts float64
	RelayOn      bool
}

// Noop discards every record. Used when telemetry is disabled.
type Noop struct{}

func (Noop) Record(context.Context, *CycleRecord) error { return nil }
func (Noop) Close() error                               { return nil }
