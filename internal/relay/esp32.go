package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 64 << 10

	// Firmware defaults reported by meters that have never been
	// configured.
	defaultVCutoff    = 12.0
	defaultVReconnect = 12.9
	defaultCalFactor  = 1.0
)

// ESP32 talks to the battery cutoff monitor firmware over its local
// HTTP API: GET /status.json for telemetry, /relay and /settings for
// commands.
type ESP32 struct {
	address string
	client  *http.Client
}

// NewESP32 returns a Port for the meter at the given address.
func NewESP32(address string) *ESP32 {
	return &ESP32{
		address: address,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// DialESP32 is the Dialer for ESP32 meters.
func DialESP32(address string) Port {
	return NewESP32(address)
}

// Status fetches the current meter telemetry. Fields missing from the
// device response fall back to firmware defaults rather than failing
// the read.
func (e *ESP32) Status(ctx context.Context) (*Snapshot, error) {
	errFactory := errors.New()

	body, err := e.get(ctx, fmt.Sprintf("http://%s/status.json", e.address))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrMeterUnreachable, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errFactory.Wrap(errors.ErrMeterUnreachable, err)
	}

	return &Snapshot{
		Voltage:           asFloat(raw["voltage_v"], 0),
		RelayOn:           asBool(raw["load_on"]),
		AutoMode:          asBool(raw["auto_mode"]),
		VCutoff:           asFloat(raw["v_cutoff"], defaultVCutoff),
		VReconnect:        asFloat(raw["v_reconnect"], defaultVReconnect),
		CalibrationFactor: asFloat(raw["calibration_factor"], defaultCalFactor),
		CycleCount:        int(asFloat(raw["cycle_count"], 0)),
		TurnOnCount48h:    int(asFloat(raw["turn_on_count_48h"], 0)),
		LastSwitchTimeMS:  int64(asFloat(raw["last_switch_time_ms"], 0)),
		UptimeMS:          int64(asFloat(raw["uptime_ms"], 0)),
		Taken:             time.Now().UTC(),
	}, nil
}

// SetRelay forces the load relay on or off.
func (e *ESP32) SetRelay(ctx context.Context, on bool) bool {
	url := fmt.Sprintf("http://%s/relay?on=%s", e.address, onOff(on))
	if _, err := e.get(ctx, url); err != nil {
		logger.Warn().Err(err).Str("meter", e.address).Bool("on", on).Msg("Relay command failed")
		return false
	}
	logger.Debug().Str("meter", e.address).Bool("on", on).Msg("Relay command sent")
	return true
}

// SetAutoMode hands relay control back to (or takes it from) the
// meter's own threshold logic.
func (e *ESP32) SetAutoMode(ctx context.Context, auto bool) bool {
	url := fmt.Sprintf("http://%s/relay?auto=%s", e.address, onOff(auto))
	if _, err := e.get(ctx, url); err != nil {
		logger.Warn().Err(err).Str("meter", e.address).Bool("auto", auto).Msg("Auto mode command failed")
		return false
	}
	logger.Debug().Str("meter", e.address).Bool("auto", auto).Msg("Auto mode command sent")
	return true
}

// SetThresholds updates the cutoff and reconnect voltages.
func (e *ESP32) SetThresholds(ctx context.Context, cutoff, reconnect float64) bool {
	url := fmt.Sprintf("http://%s/settings?lower=%s&upper=%s",
		e.address,
		strconv.FormatFloat(cutoff, 'f', -1, 64),
		strconv.FormatFloat(reconnect, 'f', -1, 64))
	if _, err := e.get(ctx, url); err != nil {
		logger.Warn().Err(err).Str("meter", e.address).Msg("Threshold command failed")
		return false
	}
	logger.Debug().
		Str("meter", e.address).
		Float64("cutoff", cutoff).
		Float64("reconnect", reconnect).
		Msg("Thresholds set")
	return true
}

// Calibrate tells the meter the actual voltage measured with a
// multimeter so it can correct its ADC factor. Unlike the other
// commands this surfaces its error: calibration is user-initiated and
// the caller reports the failure synchronously.
func (e *ESP32) Calibrate(ctx context.Context, target float64) error {
	errFactory := errors.New()

	url := fmt.Sprintf("http://%s/settings?target=%s",
		e.address, strconv.FormatFloat(target, 'f', -1, 64))
	if _, err := e.get(ctx, url); err != nil {
		return errFactory.WithMessage(errors.ErrMeterUnreachable,
			fmt.Sprintf("meter at %s did not accept calibration", e.address)).WithData(err.Error())
	}

	logger.Info().Str("meter", e.address).Float64("target", target).Msg("Calibration target set")
	return nil
}

func (e *ESP32) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meter returned HTTP %d", resp.StatusCode)
	}

	// status.json is a few hundred bytes; the bound keeps a
	// misbehaving device from streaming forever.
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func onOff(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Lenient conversions: meter firmware versions disagree about
// numeric vs string encoding for several fields.
func asFloat(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return def
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch x {
		case "true", "1", "yes", "on":
			return true
		}
	}
	return false
}
