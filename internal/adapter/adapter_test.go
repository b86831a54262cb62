package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fkusi/sensorhub/internal/relay"
	"github.com/fkusi/sensorhub/internal/sensor"
)

func testSensor(name, address string) *sensor.Sensor {
	return &sensor.Sensor{
		ID:          "c7a1a1f0-0000-4000-8000-000000000001",
		Name:        name,
		Type:        sensor.TypePurpleAir,
		Address:     address,
		UploadToken: "token-123",
	}
}

func newTestUploader(url string) *Uploader {
	u := NewUploader(url, 5*time.Second)
	u.retryDelay = time.Millisecond
	return u
}

func TestUploaderPush(t *testing.T) {
	var gotToken, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("user-token")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	u := newTestUploader(srv.URL)
	receipt, err := u.Push(context.Background(), testSensor("Front Porch", "10.0.0.5"), "PA", "a,b\n1,2")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "token-123", gotToken)
	assert.Equal(t, "a,b\n1,2", gotBody)
	assert.True(t, strings.HasPrefix(receipt.Filename, "PA_Front_Porch_"))
	assert.True(t, strings.HasSuffix(receipt.Filename, ".csv"))
}

func TestUploaderRetriesCloudErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer srv.Close()

	u := newTestUploader(srv.URL)
	_, err := u.Push(context.Background(), testSensor("s", "10.0.0.5"), "PA", "csv")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUploaderExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := newTestUploader(srv.URL)
	_, err := u.Push(context.Background(), testSensor("s", "10.0.0.5"), "PA", "csv")
	require.Error(t, err)
	assert.Equal(t, int32(uploadRetries), calls.Load())
	assert.Equal(t, KindCloud, outcomeFromError(err).Kind)
}

func TestUploaderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	u := newTestUploader(srv.URL)
	_, err := u.Push(context.Background(), testSensor("s", "10.0.0.5"), "PA", "csv")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	out := outcomeFromError(err)
	assert.Equal(t, KindHTTP, out.Kind)
	assert.Contains(t, out.Message, "401")
}

func TestUploaderConnectionRefused(t *testing.T) {
	u := newTestUploader("http://127.0.0.1:1/upload")
	_, err := u.Push(context.Background(), testSensor("s", "10.0.0.5"), "PA", "csv")
	require.Error(t, err)
	assert.Equal(t, KindConnection, outcomeFromError(err).Kind)
}

const purpleAirPayload = `{
	"DateTime": "2026/01/05T22:26:50z",
	"current_temp_f": 41,
	"current_humidity": 58,
	"current_dewpoint_f": 28,
	"pressure": 986.01,
	"pm1_0_cf_1": 3.1,
	"pm2_5_cf_1": 5.4,
	"pm10_0_cf_1": 6.0,
	"pm2.5_aqi": 22
}`

func TestPurpleAirFetchAndPush(t *testing.T) {
	var uploaded string
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploaded = string(body)
	}))
	defer hub.Close()

	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/json", r.URL.Path)
		w.Write([]byte(purpleAirPayload))
	}))
	defer device.Close()

	p := NewPurpleAir(newTestUploader(hub.URL))
	s := testSensor("porch", strings.TrimPrefix(device.URL, "http://"))

	out := p.FetchAndPush(context.Background(), s)
	require.True(t, out.OK, "message: %s", out.Message)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, 41.0, out.Reading["temperature_f"])
	assert.Equal(t, 22, out.Reading["pm2_5_aqi"])

	lines := strings.Split(uploaded, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, purpleAirCSVHeader, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2026-01-05T22:26:50Z,41,58,28,986.01"))
}

func TestPurpleAirUnreachable(t *testing.T) {
	p := NewPurpleAir(newTestUploader("http://127.0.0.1:1"))
	out := p.FetchAndPush(context.Background(), testSensor("porch", "127.0.0.1:1"))
	assert.False(t, out.OK)
	assert.Equal(t, KindConnection, out.Kind)
}

func TestPurpleAirBadPayload(t *testing.T) {
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer device.Close()

	p := NewPurpleAir(newTestUploader("http://127.0.0.1:1"))
	out := p.FetchAndPush(context.Background(), testSensor("porch", strings.TrimPrefix(device.URL, "http://")))
	assert.False(t, out.OK)
	assert.Equal(t, KindData, out.Kind)
}

func TestParsePurpleAirAQIFallbackKey(t *testing.T) {
	reading, err := parsePurpleAir(map[string]any{"pm2_5_aqi": 17.0})
	require.NoError(t, err)
	assert.Equal(t, 17, reading.PM25AQI)
}

type snapshotPort struct {
	snap *relay.Snapshot
	err  error
}

func (p *snapshotPort) Status(context.Context) (*relay.Snapshot, error) { return p.snap, p.err }
func (p *snapshotPort) SetRelay(context.Context, bool) bool             { return true }
func (p *snapshotPort) SetAutoMode(context.Context, bool) bool          { return true }
func (p *snapshotPort) SetThresholds(context.Context, float64, float64) bool {
	return true
}
func (p *snapshotPort) Calibrate(context.Context, float64) error { return nil }

func TestVoltageMeterFetchAndPush(t *testing.T) {
	var uploaded string
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploaded = string(body)
	}))
	defer hub.Close()

	snap := &relay.Snapshot{
		Voltage:           12.68,
		RelayOn:           true,
		AutoMode:          true,
		VCutoff:           12.0,
		VReconnect:        12.9,
		CalibrationFactor: 1.002,
		CycleCount:        41,
		TurnOnCount48h:    3,
		UptimeMS:          86400000,
		Taken:             time.Date(2026, 1, 5, 22, 0, 0, 0, time.UTC),
	}
	dial := func(string) relay.Port { return &snapshotPort{snap: snap} }

	vm := NewVoltageMeter(dial, newTestUploader(hub.URL))
	out := vm.FetchAndPush(context.Background(), testSensor("battery", "10.0.0.9"))
	require.True(t, out.OK, "message: %s", out.Message)
	assert.Equal(t, 12.68, out.Reading["voltage_v"])

	lines := strings.Split(uploaded, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, voltageMeterCSVHeader, lines[0])
	assert.Equal(t, "2026-01-05T22:00:00Z,12.68,1,1,12.00,12.90,1.0020,41,3,86400000", lines[1])
}

func TestVoltageMeterUnreachable(t *testing.T) {
	dial := func(string) relay.Port {
		return &snapshotPort{err: context.DeadlineExceeded}
	}
	vm := NewVoltageMeter(dial, newTestUploader("http://127.0.0.1:1"))
	out := vm.FetchAndPush(context.Background(), testSensor("battery", "10.0.0.9"))
	assert.False(t, out.OK)
	assert.Equal(t, KindConnection, out.Kind)
}
