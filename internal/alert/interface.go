package alert

import (
	"context"
	"time"

	"github.com/fkusi/sensorhub/internal/sensor"
)

// Event carries everything a notification channel needs to describe a
// sensor fault or recovery.
type Event struct {
	SensorID string        `json:"sensor_id"`
	Name     string        `json:"name"`
	Type     sensor.Type   `json:"sensor_type"`
	Location string        `json:"location,omitempty"`
	Status   sensor.Status `json:"status"`
	Message  string        `json:"message,omitempty"`
	At       time.Time     `json:"at"`
}

// Sink delivers alert events. Fire-and-forget: a false return means
// delivery failed and the caller logs it, nothing more.
type Sink interface {
	SendFault(ctx context.Context, e Event) bool
	SendRecovery(ctx context.Context, e Event) bool
}
