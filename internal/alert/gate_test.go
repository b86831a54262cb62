package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fkusi/sensorhub/internal/sensor"
)

type recordingSink struct {
	faults     []Event
	recoveries []Event
}

func (r *recordingSink) SendFault(_ context.Context, e Event) bool {
	r.faults = append(r.faults, e)
	return true
}

func (r *recordingSink) SendRecovery(_ context.Context, e Event) bool {
	r.recoveries = append(r.recoveries, e)
	return true
}

func gateSensor(status sensor.Status) *sensor.Sensor {
	return &sensor.Sensor{
		ID:       "s-1",
		Name:     "creek monitor",
		Type:     sensor.TypePurpleAir,
		Location: "north fork",
		Status:   status,
	}
}

func newTestGate(sink Sink) (*Gate, *time.Time) {
	g := NewGate(sink, 300*time.Second)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestGateFiresOnFaultTransition(t *testing.T) {
	sink := &recordingSink{}
	g, _ := newTestGate(sink)

	s := gateSensor(sensor.StatusError)
	s.LastError = "cannot connect to sensor at 10.0.0.5"
	g.Observe(context.Background(), s, sensor.StatusActive)

	require.Len(t, sink.faults, 1)
	assert.Equal(t, "s-1", sink.faults[0].SensorID)
	assert.Equal(t, sensor.StatusError, sink.faults[0].Status)
	assert.Equal(t, "cannot connect to sensor at 10.0.0.5", sink.faults[0].Message)
	assert.Equal(t, "north fork", sink.faults[0].Location)
}

func TestGateCooldownSuppressesRepeatFaults(t *testing.T) {
	sink := &recordingSink{}
	g, now := newTestGate(sink)

	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)
	// Sensor flaps back to error within the cooldown window.
	*now = now.Add(60 * time.Second)
	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)
	assert.Len(t, sink.faults, 1)

	*now = now.Add(300 * time.Second)
	g.Observe(context.Background(), gateSensor(sensor.StatusOffline), sensor.StatusActive)
	assert.Len(t, sink.faults, 2)
}

func TestGateNoAlertWithoutTransition(t *testing.T) {
	sink := &recordingSink{}
	g, _ := newTestGate(sink)

	// Already faulted, stays faulted.
	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusError)
	g.Observe(context.Background(), gateSensor(sensor.StatusOffline), sensor.StatusError)
	// Healthy to healthy.
	g.Observe(context.Background(), gateSensor(sensor.StatusActive), sensor.StatusSleeping)

	assert.Empty(t, sink.faults)
	assert.Empty(t, sink.recoveries)
}

func TestGateIgnoresExpectedPowerCyclingPairs(t *testing.T) {
	sink := &recordingSink{}
	g, _ := newTestGate(sink)

	g.Observe(context.Background(), gateSensor(sensor.StatusInactive), sensor.StatusSleeping)
	g.Observe(context.Background(), gateSensor(sensor.StatusSleeping), sensor.StatusInactive)
	g.Observe(context.Background(), gateSensor(sensor.StatusSleeping), sensor.StatusWaking)

	assert.Empty(t, sink.faults)
	assert.Empty(t, sink.recoveries)
}

func TestGateRecoveryResetsFaultCooldown(t *testing.T) {
	sink := &recordingSink{}
	g, now := newTestGate(sink)

	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)
	require.Len(t, sink.faults, 1)

	*now = now.Add(30 * time.Second)
	g.Observe(context.Background(), gateSensor(sensor.StatusActive), sensor.StatusError)
	require.Len(t, sink.recoveries, 1)

	// A fresh fault right after recovery alerts immediately even
	// though the original cooldown has not elapsed.
	*now = now.Add(10 * time.Second)
	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)
	assert.Len(t, sink.faults, 2)
}

func TestGateForget(t *testing.T) {
	sink := &recordingSink{}
	g, _ := newTestGate(sink)

	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)
	g.Forget("s-1")
	g.Observe(context.Background(), gateSensor(sensor.StatusError), sensor.StatusActive)

	assert.Len(t, sink.faults, 2)
}

func TestGateFaultInactiveAlerts(t *testing.T) {
	sink := &recordingSink{}
	g, _ := newTestGate(sink)

	// Inactive reached from active means the sensor dropped off the
	// network, not a power cycle.
	g.Observe(context.Background(), gateSensor(sensor.StatusInactive), sensor.StatusActive)
	assert.Len(t, sink.faults, 1)
}
