package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fkusi/sensorhub/internal/sensor"
)

const ubidotsTimeout = 30 * time.Second

const waterQualityCSVHeader = "Timestamp,Water Temp (°C)," +
	"Dissolved Oxygen (mg/L),DO Saturation (%)," +
	"Specific Conductivity (µS/cm),Turbidity (NTU)," +
	"Water Level (m),Battery (V)," +
	"Enclosure Temp (°C),Enclosure Humidity (%)"

// WaterQuality fetches the latest reading for a sonde from the
// Ubidots IoT platform: every probe channel is a named variable and
// the newest value of each is assembled into one observation.
type WaterQuality struct {
	apiURL   string
	token    string
	client   *http.Client
	uploader *Uploader
}

func NewWaterQuality(apiURL, token string, uploader *Uploader) *WaterQuality {
	return &WaterQuality{
		apiURL:   apiURL,
		token:    token,
		client:   &http.Client{Timeout: ubidotsTimeout},
		uploader: uploader,
	}
}

// WaterQualityReading is one normalized sonde observation.
type WaterQualityReading struct {
	Timestamp            time.Time
	WaterTempC           float64
	DissolvedOxygenMGL   float64
	DissolvedOxygenSat   float64
	SpecificConductivity float64
	TurbidityNTU         float64
	WaterLevelM          float64
	BatteryVolts         float64
	EnclosureTempC       float64
	EnclosureHumidity    float64
}

func (r *WaterQualityReading) csvRow() string {
	return fmt.Sprintf("%s,%g,%g,%g,%g,%g,%g,%g,%g,%g",
		r.Timestamp.Format(time.RFC3339),
		r.WaterTempC, r.DissolvedOxygenMGL, r.DissolvedOxygenSat,
		r.SpecificConductivity, r.TurbidityNTU, r.WaterLevelM,
		r.BatteryVolts, r.EnclosureTempC, r.EnclosureHumidity)
}

func (r *WaterQualityReading) asMap() map[string]any {
	return map[string]any{
		"timestamp":             r.Timestamp,
		"water_temp_c":          r.WaterTempC,
		"dissolved_oxygen_mgl":  r.DissolvedOxygenMGL,
		"dissolved_oxygen_sat":  r.DissolvedOxygenSat,
		"specific_conductivity": r.SpecificConductivity,
		"turbidity_ntu":         r.TurbidityNTU,
		"water_level_m":         r.WaterLevelM,
		"battery_volts":         r.BatteryVolts,
		"enclosure_temp_c":      r.EnclosureTempC,
		"enclosure_humidity":    r.EnclosureHumidity,
	}
}

type ubidotsValue struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

type ubidotsVariable struct {
	Label     string        `json:"label"`
	LastValue *ubidotsValue `json:"lastValue"`
}

type ubidotsVariablesPage struct {
	Results []ubidotsVariable `json:"results"`
}

func (w *WaterQuality) FetchAndPush(ctx context.Context, s *sensor.Sensor) Outcome {
	variables, err := w.fetchVariables(ctx, s.DeviceID)
	if err != nil {
		return outcomeFromError(err)
	}
	if len(variables) == 0 {
		return Failure(KindData, fmt.Sprintf("no variables for device %s", s.DeviceID))
	}

	reading := assembleWaterQuality(variables)
	csv := waterQualityCSVHeader + "\n" + reading.csvRow()
	receipt, err := w.uploader.Push(ctx, s, "WQ", csv)
	if err != nil {
		return outcomeFromError(err)
	}

	return Success(reading.asMap(), receipt)
}

func (w *WaterQuality) fetchVariables(ctx context.Context, deviceID string) ([]ubidotsVariable, error) {
	url := fmt.Sprintf("%s/devices/%s/variables", w.apiURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &uploadError{kind: KindUnknown, message: err.Error()}
	}
	req.Header.Set("X-Auth-Token", w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &uploadError{kind: KindConnection,
			message: fmt.Sprintf("cannot reach cloud platform: %v", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &uploadError{kind: KindHTTP, message: "invalid cloud platform token"}
	case http.StatusNotFound:
		return nil, &uploadError{kind: KindHTTP,
			message: fmt.Sprintf("device %s not found on cloud platform", deviceID)}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &uploadError{kind: KindCloud,
			message: fmt.Sprintf("cloud platform error (%d)", resp.StatusCode)}
	default:
		return nil, &uploadError{kind: KindHTTP,
			message: fmt.Sprintf("cloud platform returned HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &uploadError{kind: KindConnection, message: err.Error()}
	}

	var page ubidotsVariablesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &uploadError{kind: KindData,
			message: fmt.Sprintf("malformed variables payload: %v", err)}
	}
	return page.Results, nil
}

// assembleWaterQuality folds per-channel variables into one reading,
// stamped with the newest value's timestamp (epoch millis).
func assembleWaterQuality(variables []ubidotsVariable) *WaterQualityReading {
	values := make(map[string]float64, len(variables))
	var latest int64
	for _, v := range variables {
		if v.LastValue == nil {
			continue
		}
		values[v.Label] = v.LastValue.Value
		if v.LastValue.Timestamp > latest {
			latest = v.LastValue.Timestamp
		}
	}

	ts := time.Now().UTC()
	if latest > 0 {
		ts = time.UnixMilli(latest).UTC()
	}

	return &WaterQualityReading{
		Timestamp:            ts,
		WaterTempC:           values["wtemp"],
		DissolvedOxygenMGL:   values["do"],
		DissolvedOxygenSat:   values["dosat"],
		SpecificConductivity: values["spcond"],
		TurbidityNTU:         values["turb"],
		WaterLevelM:          values["distance"],
		BatteryVolts:         values["vbat"],
		EnclosureTempC:       values["enctemp"],
		EnclosureHumidity:    values["encrh"],
	}
}
