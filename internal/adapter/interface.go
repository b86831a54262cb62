package adapter

import (
	"context"
	"time"

	"github.com/fkusi/sensorhub/internal/sensor"
)

// Error kinds carried in Outcome.Kind and passed through as status
// reasons by the classifier.
const (
	KindConnection = "connection_error"
	KindCloud      = "cloud_error"
	KindHTTP       = "http_error"
	KindData       = "data_error"
	KindUnknown    = "unknown_error"
)

// Receipt describes one accepted upload.
type Receipt struct {
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Outcome is the structured result of one fetch-and-push cycle. The
// port never panics or returns a raw error across the boundary; every
// failure is folded into Kind and Message.
type Outcome struct {
	OK      bool           `json:"ok"`
	Reading map[string]any `json:"reading,omitempty"`
	Receipt *Receipt       `json:"receipt,omitempty"`
	Kind    string         `json:"error_kind,omitempty"`
	Message string         `json:"error_message,omitempty"`
}

// Success builds a successful outcome.
func Success(reading map[string]any, receipt *Receipt) Outcome {
	return Outcome{OK: true, Reading: reading, Receipt: receipt}
}

// Failure builds a failed outcome.
func Failure(kind, message string) Outcome {
	return Outcome{Kind: kind, Message: message}
}

// FetchPusher is the per-sensor-type port: read one reading,
// normalize it, deliver it to the remote store. Implementations
// retry transient upstream failures internally so callers never
// re-invoke on error; it is safe to call on a fixed timer.
type FetchPusher interface {
	FetchAndPush(ctx context.Context, s *sensor.Sensor) Outcome
}

// Registry maps sensor types to their adapters. A closed dispatch
// table: adding a sensor type means registering one more variant.
type Registry map[sensor.Type]FetchPusher
