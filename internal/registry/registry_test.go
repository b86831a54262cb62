package registry_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fkusi/sensorhub/internal/registry"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(filepath.Join(t.TempDir(), "sensors.json"))
}

func TestRegisterAssignsID(t *testing.T) {
	r := newTestRegistry(t)

	s := r.Register(&sensor.Sensor{
		Type:        sensor.TypePurpleAir,
		Name:        "Lab Sensor",
		Location:    "Science Building Room 201",
		Address:     "192.168.1.100",
		UploadToken: "tok",
	})

	require.NotEmpty(t, s.ID)
	assert.Equal(t, sensor.StatusInactive, s.Status)
	assert.False(t, s.IsActive)
	assert.Equal(t, sensor.PowerNormal, s.PowerMode)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Register(&sensor.Sensor{Type: sensor.TypePurpleAir, Name: "a"})

	got := r.Get(s.ID)
	require.NotNil(t, got)
	got.Name = "mutated"

	assert.Equal(t, "a", r.Get(s.ID).Name)
}

func TestListFiltersByType(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(&sensor.Sensor{Type: sensor.TypePurpleAir, Name: "pa"})
	r.Register(&sensor.Sensor{Type: sensor.TypeTempest, Name: "tp"})
	r.Register(&sensor.Sensor{Type: sensor.TypeTempest, Name: "tp2"})

	assert.Len(t, r.List(""), 3)
	assert.Len(t, r.List(sensor.TypeTempest), 2)
	assert.Len(t, r.List(sensor.TypeVoltageMeter), 0)
}

func TestUpdateNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Update("missing", func(s *sensor.Sensor) {})
	require.Error(t, err)
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t)
	s := r.Register(&sensor.Sensor{Type: sensor.TypePurpleAir})

	assert.True(t, r.Delete(s.ID))
	assert.False(t, r.Delete(s.ID))
	assert.Nil(t, r.Get(s.ID))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.json")
	r := registry.New(path)

	s := r.Register(&sensor.Sensor{
		Type:        sensor.TypeVoltageMeter,
		Name:        "Battery Monitor",
		Location:    "Creek Station",
		Address:     "10.0.0.9",
		UploadToken: "secret-token",
		PowerMode:   sensor.PowerSaving,
	})
	now := time.Now().UTC().Truncate(time.Second)
	_, err := r.Update(s.ID, func(s *sensor.Sensor) {
		s.Status = sensor.StatusError
		s.StatusReason = sensor.ReasonWifiError
		s.LastError = "connection refused"
		s.LastActive = &now
		s.PollingInterval = 600
		s.IsActive = true
		s.Meter.BatteryVolts = 12.8
		s.Meter.RelayOn = true
	})
	require.NoError(t, err)
	require.NoError(t, r.Save())

	reloaded := registry.New(path)
	require.NoError(t, reloaded.Load())

	got := reloaded.Get(s.ID)
	require.NotNil(t, got)
	assert.Equal(t, sensor.StatusError, got.Status)
	assert.Equal(t, sensor.ReasonWifiError, got.StatusReason)
	assert.Equal(t, "connection refused", got.LastError)
	assert.Equal(t, 600, got.PollingInterval)
	assert.Equal(t, sensor.PowerSaving, got.PowerMode)
	assert.Equal(t, "secret-token", got.UploadToken)
	assert.True(t, got.IsActive)
	assert.Equal(t, 12.8, got.Meter.BatteryVolts)
	require.NotNil(t, got.LastActive)
	assert.True(t, got.LastActive.Equal(now))
}

func TestLoadSkipsUnparseableRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.json")

	store := map[string]json.RawMessage{
		"good": json.RawMessage(`{"id":"good","sensor_type":"purple_air","name":"ok","created_at":"2026-01-01T00:00:00Z"}`),
		"bad":  json.RawMessage(`{"id":"bad","created_at":"not a timestamp"}`),
	}
	data, err := json.Marshal(store)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	r := registry.New(path)
	require.NoError(t, r.Load())

	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("good"))
	assert.Nil(t, r.Get("bad"))
}

func TestLoadBacksUpCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensors.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{not json"), 0o600))

	r := registry.New(path)
	require.NoError(t, r.Load())
	assert.Equal(t, 0, r.Count())

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	backup, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "{{{not json", string(backup))
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	r := registry.New(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, r.Load())
	assert.Equal(t, 0, r.Count())
}

func TestConcurrentSavesKeepLatestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.json")
	r := registry.New(path)
	s := r.Register(&sensor.Sensor{
		Type:    sensor.TypePurpleAir,
		Name:    "Lab Sensor",
		Address: "192.168.1.100",
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.Update(s.ID, func(live *sensor.Sensor) {
				live.Location = fmt.Sprintf("room-%d", n)
			})
			assert.NoError(t, err)
			assert.NoError(t, r.Save())
		}(i)
	}
	wg.Wait()

	// Saves are serialized, so the save after the last update is the
	// last write to land on disk.
	_, err := r.Update(s.ID, func(live *sensor.Sensor) {
		live.Location = "final"
	})
	require.NoError(t, err)
	require.NoError(t, r.Save())

	reloaded := registry.New(path)
	require.NoError(t, reloaded.Load())
	got := reloaded.Get(s.ID)
	require.NotNil(t, got)
	assert.Equal(t, "final", got.Location)
}
