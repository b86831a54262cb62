package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/gorilla/websocket"
)

const (
	tempestDialTimeout = 10 * time.Second
	tempestObsTimeout  = 20 * time.Second

	mpsToMPH = 2.23694
	mmToInch = 0.0393701
)

const tempestCSVHeader = "Timestamp,Temperature (°F),Humidity (%)," +
	"Pressure (mb),Wind Speed (mph),Wind Gust (mph)," +
	"Wind Direction (°),Rain (in),UV Index," +
	"Solar Radiation (W/m²),Lightning Count"

// Tempest subscribes to the WeatherFlow cloud WebSocket feed for one
// observation per cycle: connect, listen_start for the device, wait
// for the next obs_st frame, then unsubscribe.
type Tempest struct {
	wsURL    string
	token    string
	uploader *Uploader

	// obsTimeout is a field so tests do not wait the full window.
	obsTimeout time.Duration
}

func NewTempest(wsURL, token string, uploader *Uploader) *Tempest {
	return &Tempest{
		wsURL:      wsURL,
		token:      token,
		uploader:   uploader,
		obsTimeout: tempestObsTimeout,
	}
}

// TempestReading is one normalized weather observation.
type TempestReading struct {
	Timestamp      time.Time
	TempF          float64
	Humidity       float64
	PressureMB     float64
	WindSpeedMPH   float64
	WindGustMPH    float64
	WindDirDeg     int
	RainInches     float64
	UVIndex        float64
	SolarRadiation float64
	LightningCount int
}

func (r *TempestReading) csvRow() string {
	return fmt.Sprintf("%s,%g,%g,%g,%g,%g,%d,%g,%g,%g,%d",
		r.Timestamp.Format(time.RFC3339),
		r.TempF, r.Humidity, r.PressureMB,
		r.WindSpeedMPH, r.WindGustMPH, r.WindDirDeg,
		r.RainInches, r.UVIndex, r.SolarRadiation, r.LightningCount)
}

func (r *TempestReading) asMap() map[string]any {
	return map[string]any{
		"timestamp":          r.Timestamp,
		"temperature_f":      r.TempF,
		"humidity_percent":   r.Humidity,
		"pressure_mb":        r.PressureMB,
		"wind_speed_mph":     r.WindSpeedMPH,
		"wind_gust_mph":      r.WindGustMPH,
		"wind_direction_deg": r.WindDirDeg,
		"rain_inches":        r.RainInches,
		"uv_index":           r.UVIndex,
		"solar_radiation":    r.SolarRadiation,
		"lightning_count":    r.LightningCount,
	}
}

type tempestFrame struct {
	Type     string      `json:"type"`
	DeviceID json.Number `json:"device_id"`
	Obs      [][]float64 `json:"obs"`
}

func (t *Tempest) FetchAndPush(ctx context.Context, s *sensor.Sensor) Outcome {
	reading, err := t.awaitObservation(ctx, s.DeviceID)
	if err != nil {
		return outcomeFromError(err)
	}

	csv := tempestCSVHeader + "\n" + reading.csvRow()
	receipt, err := t.uploader.Push(ctx, s, "TP", csv)
	if err != nil {
		return outcomeFromError(err)
	}

	return Success(reading.asMap(), receipt)
}

// awaitObservation opens the feed, subscribes to the device, and
// blocks until one observation arrives or the window closes.
func (t *Tempest) awaitObservation(ctx context.Context, deviceID string) (*TempestReading, error) {
	dialer := websocket.Dialer{HandshakeTimeout: tempestDialTimeout}
	url := t.wsURL
	if t.token != "" {
		url = fmt.Sprintf("%s?token=%s", t.wsURL, t.token)
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &uploadError{kind: KindConnection,
			message: fmt.Sprintf("cannot reach weather feed: %v", err)}
	}
	defer conn.Close()

	start := map[string]any{
		"type":      "listen_start",
		"device_id": deviceID,
		"id":        fmt.Sprintf("sensorhub-%d", time.Now().UnixNano()),
	}
	if err := conn.WriteJSON(start); err != nil {
		return nil, &uploadError{kind: KindConnection,
			message: fmt.Sprintf("subscribe failed: %v", err)}
	}
	defer func() {
		stop := map[string]any{"type": "listen_stop", "device_id": deviceID}
		if err := conn.WriteJSON(stop); err != nil {
			logger.Debug().Err(err).Msg("listen_stop failed")
		}
	}()

	deadline := time.Now().Add(t.obsTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, &uploadError{kind: KindConnection,
			message: fmt.Sprintf("cannot set read deadline: %v", err)}
	}

	for {
		var frame tempestFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil, &uploadError{kind: KindConnection,
				message: fmt.Sprintf("no observation for device %s: %v", deviceID, err)}
		}

		if frame.Type != "obs_st" || len(frame.Obs) == 0 {
			continue
		}
		if frame.DeviceID.String() != deviceID && frame.DeviceID.String() != "" {
			continue
		}

		reading, err := parseTempestObs(frame.Obs[0])
		if err != nil {
			return nil, &uploadError{kind: KindData, message: err.Error()}
		}
		return reading, nil
	}
}

// parseTempestObs decodes one obs_st array. Index layout per the
// WeatherFlow API: [epoch, wind lull, wind avg, wind gust, wind dir,
// wind interval, pressure mb, air temp °C, humidity %, illuminance,
// UV, solar W/m², rain mm, precip type, lightning distance,
// lightning count, battery V, report interval].
func parseTempestObs(obs []float64) (*TempestReading, error) {
	if len(obs) < 16 {
		return nil, fmt.Errorf("short observation: %d fields", len(obs))
	}

	return &TempestReading{
		Timestamp:      time.Unix(int64(obs[0]), 0).UTC(),
		WindSpeedMPH:   obs[2] * mpsToMPH,
		WindGustMPH:    obs[3] * mpsToMPH,
		WindDirDeg:     int(obs[4]),
		PressureMB:     obs[6],
		TempF:          obs[7]*9/5 + 32,
		Humidity:       obs[8],
		UVIndex:        obs[10],
		SolarRadiation: obs[11],
		RainInches:     obs[12] * mmToInch,
		LightningCount: int(obs[15]),
	}, nil
}
