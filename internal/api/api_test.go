package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fkusi/sensorhub/internal/adapter"
	"github.com/fkusi/sensorhub/internal/alert"
	"github.com/fkusi/sensorhub/internal/manager"
	"github.com/fkusi/sensorhub/internal/powermode"
	"github.com/fkusi/sensorhub/internal/registry"
	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/scheduler"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/fkusi/sensorhub/internal/telemetry"
)

type okAdapter struct{}

func (okAdapter) FetchAndPush(context.Context, *sensor.Sensor) adapter.Outcome {
	return adapter.Success(map[string]any{"value": 1.0}, &adapter.Receipt{Filename: "f.csv"})
}

type okPort struct{}

func (okPort) Status(context.Context) (*relay.Snapshot, error) {
	return &relay.Snapshot{Voltage: 12.8, VCutoff: 12.0}, nil
}
func (okPort) SetRelay(context.Context, bool) bool             { return true }
func (okPort) SetAutoMode(context.Context, bool) bool          { return true }
func (okPort) SetThresholds(context.Context, float64, float64) bool {
	return true
}
func (okPort) Calibrate(context.Context, float64) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dial := func(string) relay.Port { return okPort{} }
	ctrl := powermode.NewController(adapter.Registry{
		sensor.TypePurpleAir:    okAdapter{},
		sensor.TypeVoltageMeter: okAdapter{},
	}, dial)
	ctrl.RelayOffDelay = time.Millisecond

	sched := scheduler.New()
	t.Cleanup(sched.Shutdown)

	reg := registry.New(filepath.Join(t.TempDir(), "sensors.json"))
	m := manager.New(reg, sched, ctrl, alert.NewGate(alert.NoopSink{}, time.Hour), telemetry.Noop{}, dial, 60)

	srv := httptest.NewServer(NewRouter(m))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func registerAir(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/purple_air", map[string]any{
		"name":    "Front Porch",
		"address": "10.0.0.5",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterAndGet(t *testing.T) {
	srv := newTestServer(t)
	id := registerAir(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sensors/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Front Porch", body["name"])
	assert.Equal(t, "purple_air", body["sensor_type"])
	assert.Equal(t, "inactive", body["status"])
	// The upload token must never appear in API responses.
	_, leaked := body["upload_token"]
	assert.False(t, leaked)
}

func TestRegisterRejectsBadAddress(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/purple_air", map[string]any{
		"name":    "x",
		"address": "not-an-ip",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_address", body["error"])
}

func TestRegisterDuplicateAddressConflicts(t *testing.T) {
	srv := newTestServer(t)
	registerAir(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/purple_air", map[string]any{
		"name":    "copy",
		"address": "10.0.0.5",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownSensorIs404(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/sensors/ffffffff-0000-4000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurnOnFetchNowTurnOff(t *testing.T) {
	srv := newTestServer(t)
	id := registerAir(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/turn-on", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_active"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/fetch-now", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, true, outcome["ok"])
	sensorBody := body["sensor"].(map[string]any)
	assert.Equal(t, "active", sensorBody["status"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/turn-off", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "inactive", body["status"])
}

func TestPowerModeWithoutMeterIs400(t *testing.T) {
	srv := newTestServer(t)
	id := registerAir(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/power-mode",
		map[string]any{"mode": "power_saving"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "meter_not_linked", body["error"])
}

func TestFrequencyEndpointQuantizes(t *testing.T) {
	srv := newTestServer(t)
	id := registerAir(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/frequency",
		map[string]any{"minutes": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(600), body["polling_interval_seconds"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/frequency",
		map[string]any{"minutes": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMeterEndpoints(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/voltage_meter", map[string]any{
		"name":    "Battery Box",
		"address": "10.0.0.9",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/relay",
		map[string]any{"mode": "on"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	meter := body["meter"].(map[string]any)
	assert.Equal(t, true, meter["relay_on"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/thresholds",
		map[string]any{"cutoff": 11.8, "reconnect": 12.6})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/calibrate",
		map[string]any{"target": 12.65})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sensors/"+id+"/relay",
		map[string]any{"mode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSensor(t *testing.T) {
	srv := newTestServer(t)
	id := registerAir(t, srv)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/sensors/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sensors/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFiltersByType(t *testing.T) {
	srv := newTestServer(t)
	registerAir(t, srv)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sensors/voltage_meter", map[string]any{
		"name":    "Battery Box",
		"address": "10.0.0.9",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sensors?type=purple_air", nil)
	require.NoError(t, err)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var views []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "purple_air", views[0]["sensor_type"])
}
