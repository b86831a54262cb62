package relay

import (
	"context"
	"time"
)

// Snapshot is one telemetry reading from a voltage meter: the
// independent channel used to disambiguate an unreachable sensor.
type Snapshot struct {
	Voltage           float64
	RelayOn           bool
	AutoMode          bool
	VCutoff           float64
	VReconnect        float64
	CalibrationFactor float64
	CycleCount        int
	TurnOnCount48h    int
	LastSwitchTimeMS  int64
	UptimeMS          int64
	Taken             time.Time
}

// Port is the remote control and telemetry surface of a duty-cycled
// power switch. The Set* operations are best-effort: a false return
// means the command did not reach the device, and callers log and
// move on rather than aborting their cycle.
type Port interface {
	Status(ctx context.Context) (*Snapshot, error)
	SetRelay(ctx context.Context, on bool) bool
	SetAutoMode(ctx context.Context, auto bool) bool
	SetThresholds(ctx context.Context, cutoff, reconnect float64) bool
	Calibrate(ctx context.Context, target float64) error
}

// Dialer builds a Port for a meter at the given network address.
type Dialer func(address string) Port
