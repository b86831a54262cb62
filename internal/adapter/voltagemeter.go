package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/sensor"
)

const voltageMeterCSVHeader = "Timestamp,Voltage (V),Load On,Auto Mode," +
	"Cutoff (V),Reconnect (V),Calibration Factor,Cycle Count,Cycles 48h,Uptime (ms)"

// VoltageMeter treats the battery cutoff monitor itself as a sensor:
// its telemetry snapshot is the reading.
type VoltageMeter struct {
	dial     relay.Dialer
	uploader *Uploader
}

func NewVoltageMeter(dial relay.Dialer, uploader *Uploader) *VoltageMeter {
	return &VoltageMeter{dial: dial, uploader: uploader}
}

func (v *VoltageMeter) FetchAndPush(ctx context.Context, s *sensor.Sensor) Outcome {
	snap, err := v.dial(s.Address).Status(ctx)
	if err != nil {
		return Failure(KindConnection,
			fmt.Sprintf("cannot connect to voltage meter at %s", s.Address))
	}

	csv := voltageMeterCSVHeader + "\n" + voltageMeterCSVRow(snap)
	receipt, err := v.uploader.Push(ctx, s, "VM", csv)
	if err != nil {
		return outcomeFromError(err)
	}

	return Success(map[string]any{
		"voltage_v":          snap.Voltage,
		"load_on":            snap.RelayOn,
		"auto_mode":          snap.AutoMode,
		"v_cutoff":           snap.VCutoff,
		"v_reconnect":        snap.VReconnect,
		"calibration_factor": snap.CalibrationFactor,
		"cycle_count":        snap.CycleCount,
		"turn_on_count_48h":  snap.TurnOnCount48h,
		"uptime_ms":          snap.UptimeMS,
	}, receipt)
}

func voltageMeterCSVRow(snap *relay.Snapshot) string {
	return fmt.Sprintf("%s,%.2f,%d,%d,%.2f,%.2f,%.4f,%d,%d,%d",
		snap.Taken.Format(time.RFC3339),
		snap.Voltage,
		boolToInt(snap.RelayOn),
		boolToInt(snap.AutoMode),
		snap.VCutoff,
		snap.VReconnect,
		snap.CalibrationFactor,
		snap.CycleCount,
		snap.TurnOnCount48h,
		snap.UptimeMS)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
