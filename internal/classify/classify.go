// Package classify turns a raw fetch outcome into a sensor status.
//
// An unreachable sensor has at least three distinct causes (asleep on
// schedule, battery cutoff, wifi fault) and the fetch result alone
// cannot tell them apart. Cross-referencing the relay device's
// telemetry snapshot disambiguates them.
package classify

import (
	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/sensor"
)

// Result is a status decision and the reason behind it.
type Result struct {
	Status sensor.Status
	Reason string
}

// Classify maps one fetch-and-push outcome to a status. snapshot is
// the linked meter's telemetry, nil when the sensor has no meter or
// the meter could not be reached.
func Classify(mode sensor.PowerMode, outcome adapter.Outcome, snapshot *relay.Snapshot) Result {
	if outcome.OK {
		if mode == sensor.PowerSaving {
			return Result{Status: sensor.StatusSleeping}
		}
		return Result{Status: sensor.StatusActive}
	}

	if outcome.Kind != adapter.KindConnection {
		// Upload, cloud or payload failures: the sensor answered,
		// something downstream did not.
		return Result{Status: sensor.StatusError, Reason: outcome.Kind}
	}

	if snapshot == nil {
		// No independent telemetry channel: off the network, but
		// nothing suggests a malfunction.
		return Result{Status: sensor.StatusInactive}
	}

	if snapshot.RelayOn {
		// Power present, network absent.
		return Result{Status: sensor.StatusError, Reason: sensor.ReasonWifiError}
	}

	switch {
	case snapshot.Voltage < snapshot.VCutoff:
		return Result{Status: sensor.StatusOffline, Reason: sensor.ReasonBatteryLow}
	case mode == sensor.PowerSaving:
		return Result{Status: sensor.StatusSleeping, Reason: sensor.ReasonSleeping}
	default:
		// Relay off outside power saving with a healthy battery:
		// the device should be powered, so treat it as a fault.
		return Result{Status: sensor.StatusError, Reason: sensor.ReasonWifiError}
	}
}
