package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meterStub mimics the battery cutoff monitor firmware endpoints.
type meterStub struct {
	statusBody string
	requests   []*url.URL
	fail       bool
}

func (m *meterStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests = append(m.requests, r.URL)
		if m.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Path == "/status.json" {
			w.Write([]byte(m.statusBody))
			return
		}
		w.Write([]byte("OK"))
	})
}

func newMeter(t *testing.T, stub *meterStub) *relay.ESP32 {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return relay.NewESP32(strings.TrimPrefix(srv.URL, "http://"))
}

func TestStatusParsesTelemetry(t *testing.T) {
	stub := &meterStub{statusBody: `{
		"voltage_v": 12.7,
		"load_on": true,
		"auto_mode": false,
		"v_cutoff": 11.5,
		"v_reconnect": 12.9,
		"calibration_factor": 1.17,
		"cycle_count": 42,
		"turn_on_count_48h": 5,
		"uptime_ms": 123456
	}`}
	m := newMeter(t, stub)

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.7, snap.Voltage)
	assert.True(t, snap.RelayOn)
	assert.False(t, snap.AutoMode)
	assert.Equal(t, 11.5, snap.VCutoff)
	assert.Equal(t, 1.17, snap.CalibrationFactor)
	assert.Equal(t, 42, snap.CycleCount)
	assert.Equal(t, int64(123456), snap.UptimeMS)
	assert.False(t, snap.Taken.IsZero())
}

func TestStatusLenientParsing(t *testing.T) {
	// Older firmware sends numbers as strings and flags as 0/1.
	stub := &meterStub{statusBody: `{"voltage_v":"13.1","load_on":1,"auto_mode":"true"}`}
	m := newMeter(t, stub)

	snap, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13.1, snap.Voltage)
	assert.True(t, snap.RelayOn)
	assert.True(t, snap.AutoMode)
	// Missing thresholds fall back to firmware defaults.
	assert.Equal(t, 12.0, snap.VCutoff)
	assert.Equal(t, 12.9, snap.VReconnect)
}

func TestStatusUnreachable(t *testing.T) {
	m := relay.NewESP32("127.0.0.1:1")

	snap, err := m.Status(context.Background())
	require.Error(t, err)
	assert.Nil(t, snap)
}

func TestSetRelayBuildsCommand(t *testing.T) {
	stub := &meterStub{statusBody: "{}"}
	m := newMeter(t, stub)

	require.True(t, m.SetRelay(context.Background(), true))
	require.True(t, m.SetRelay(context.Background(), false))

	require.Len(t, stub.requests, 2)
	assert.Equal(t, "/relay", stub.requests[0].Path)
	assert.Equal(t, "1", stub.requests[0].Query().Get("on"))
	assert.Equal(t, "0", stub.requests[1].Query().Get("on"))
}

func TestSetAutoMode(t *testing.T) {
	stub := &meterStub{statusBody: "{}"}
	m := newMeter(t, stub)

	require.True(t, m.SetAutoMode(context.Background(), true))
	assert.Equal(t, "1", stub.requests[0].Query().Get("auto"))
}

func TestSetThresholds(t *testing.T) {
	stub := &meterStub{statusBody: "{}"}
	m := newMeter(t, stub)

	require.True(t, m.SetThresholds(context.Background(), 11.0, 12.6))
	q := stub.requests[0].Query()
	assert.Equal(t, "/settings", stub.requests[0].Path)
	assert.Equal(t, "11", q.Get("lower"))
	assert.Equal(t, "12.6", q.Get("upper"))
}

func TestCommandsFailSoft(t *testing.T) {
	stub := &meterStub{fail: true}
	m := newMeter(t, stub)

	assert.False(t, m.SetRelay(context.Background(), true))
	assert.False(t, m.SetAutoMode(context.Background(), true))
	assert.False(t, m.SetThresholds(context.Background(), 11, 12))
}

func TestCalibrateSurfacesError(t *testing.T) {
	stub := &meterStub{fail: true}
	m := newMeter(t, stub)

	err := m.Calibrate(context.Background(), 12.45)
	require.Error(t, err)
}

func TestCalibrateSendsTarget(t *testing.T) {
	stub := &meterStub{statusBody: "{}"}
	m := newMeter(t, stub)

	require.NoError(t, m.Calibrate(context.Background(), 12.45))
	assert.Equal(t, "12.45", stub.requests[0].Query().Get("target"))
}
