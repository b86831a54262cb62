package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fkusi/sensorhub/internal/sensor"
)

const purpleAirTimeout = 30 * time.Second

// purpleAirCSVHeader matches the column layout the data hub expects
// for air quality uploads.
const purpleAirCSVHeader = "Timestamp,Temperature (°F),Humidity (%)," +
	"Dewpoint (°F),Pressure (hPa)," +
	"PM1.0 :cf_1( µg/m³),PM2.5 :cf_1( µg/m³)," +
	"PM10.0 :cf_1( µg/m³),PM2.5 AQI"

// PurpleAir polls an air quality sensor's local JSON endpoint. The
// sensor serves its full state at http://<addr>/json with no
// authentication.
type PurpleAir struct {
	client   *http.Client
	uploader *Uploader
}

func NewPurpleAir(uploader *Uploader) *PurpleAir {
	return &PurpleAir{
		client:   &http.Client{Timeout: purpleAirTimeout},
		uploader: uploader,
	}
}

// PurpleAirReading is one normalized air quality reading.
type PurpleAirReading struct {
	Timestamp   time.Time
	TempF       float64
	Humidity    float64
	DewpointF   float64
	PressureHPA float64
	PM10CF1     float64
	PM25CF1     float64
	PM100CF1    float64
	PM25AQI     int
}

func (r *PurpleAirReading) csvRow() string {
	return fmt.Sprintf("%s,%g,%g,%g,%g,%g,%g,%g,%d",
		r.Timestamp.Format(time.RFC3339),
		r.TempF, r.Humidity, r.DewpointF, r.PressureHPA,
		r.PM10CF1, r.PM25CF1, r.PM100CF1, r.PM25AQI)
}

func (r *PurpleAirReading) asMap() map[string]any {
	return map[string]any{
		"timestamp":        r.Timestamp,
		"temperature_f":    r.TempF,
		"humidity_percent": r.Humidity,
		"dewpoint_f":       r.DewpointF,
		"pressure_hpa":     r.PressureHPA,
		"pm1_0_cf1":        r.PM10CF1,
		"pm2_5_cf1":        r.PM25CF1,
		"pm10_0_cf1":       r.PM100CF1,
		"pm2_5_aqi":        r.PM25AQI,
	}
}

func (p *PurpleAir) FetchAndPush(ctx context.Context, s *sensor.Sensor) Outcome {
	raw, err := p.fetch(ctx, s.Address)
	if err != nil {
		return Failure(KindConnection,
			fmt.Sprintf("cannot connect to sensor at %s: %v", s.Address, err))
	}

	reading, err := parsePurpleAir(raw)
	if err != nil {
		return Failure(KindData, err.Error())
	}

	csv := purpleAirCSVHeader + "\n" + reading.csvRow()
	receipt, err := p.uploader.Push(ctx, s, "PA", csv)
	if err != nil {
		return outcomeFromError(err)
	}

	return Success(reading.asMap(), receipt)
}

func (p *PurpleAir) fetch(ctx context.Context, address string) (map[string]any, error) {
	url := fmt.Sprintf("http://%s/json", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sensor returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func parsePurpleAir(raw map[string]any) (*PurpleAirReading, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty sensor payload")
	}

	reading := &PurpleAirReading{
		Timestamp:   parsePurpleAirTime(raw["DateTime"]),
		TempF:       numField(raw, "current_temp_f"),
		Humidity:    numField(raw, "current_humidity"),
		DewpointF:   numField(raw, "current_dewpoint_f"),
		PressureHPA: numField(raw, "pressure"),
		PM10CF1:     numField(raw, "pm1_0_cf_1"),
		PM25CF1:     numField(raw, "pm2_5_cf_1"),
		PM100CF1:    numField(raw, "pm10_0_cf_1"),
	}

	// The firmware is inconsistent about the AQI key.
	aqi := numField(raw, "pm2.5_aqi")
	if aqi == 0 {
		aqi = numField(raw, "pm2_5_aqi")
	}
	reading.PM25AQI = int(aqi)

	return reading, nil
}

// parsePurpleAirTime handles the sensor's "2026/01/05T22:26:50z"
// timestamp format, falling back to now when absent or malformed.
func parsePurpleAirTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Now().UTC()
	}

	clean := strings.ReplaceAll(s, "/", "-")
	clean = strings.TrimSuffix(clean, "z") + "Z"
	if t, err := time.Parse(time.RFC3339, clean); err == nil {
		return t
	}
	return time.Now().UTC()
}

func numField(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

const maxResponseBytes = 256 << 10
