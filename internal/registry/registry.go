package registry

import (
	"sync"
	"time"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/sensor"
	"github.com/google/uuid"
)

// Registry is the durable store of sensor configuration and live
// state. All mutation goes through it under one lock; callers get
// clones, never aliases into the map.
type Registry struct {
	mu      sync.RWMutex
	sensors map[string]*sensor.Sensor
	path    string

	// saveMu serializes snapshot writes so concurrent saves cannot
	// land on disk out of order.
	saveMu sync.Mutex
}

// New creates an empty registry persisting to path.
func New(path string) *Registry {
	return &Registry{
		sensors: make(map[string]*sensor.Sensor),
		path:    path,
	}
}

// Register assigns an id and stores a new sensor. The sensor starts
// inactive; turning it on is a separate operation.
func (r *Registry) Register(s *sensor.Sensor) *sensor.Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.ID = uuid.NewString()
	s.Status = sensor.StatusInactive
	s.IsActive = false
	s.CreatedAt = time.Now().UTC()
	if s.PowerMode == "" {
		s.PowerMode = sensor.PowerNormal
	}

	r.sensors[s.ID] = s.Clone()

	return s.Clone()
}

// Get returns a copy of the sensor, or nil when absent.
func (r *Registry) Get(id string) *sensor.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sensors[id]
	if !ok {
		return nil
	}
	return s.Clone()
}

// List returns copies of all sensors, optionally filtered by type.
func (r *Registry) List(t sensor.Type) []*sensor.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*sensor.Sensor, 0, len(r.sensors))
	for _, s := range r.sensors {
		if t != "" && s.Type != t {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}

// Update applies fn to the stored sensor under the registry lock and
// returns the updated copy. fn sees and mutates the live record; this
// is the single mutation path shared by control operations and poll
// callbacks.
func (r *Registry) Update(id string, fn func(*sensor.Sensor)) (*sensor.Sensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sensors[id]
	if !ok {
		return nil, errors.New().WithData(ErrNotFound, id)
	}

	fn(s)

	return s.Clone(), nil
}

// Delete removes a sensor. Callers must cancel its jobs first.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sensors[id]; !ok {
		return false
	}
	delete(r.sensors, id)

	return true
}

// Exists reports whether a sensor id is present.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sensors[id]
	return ok
}

// Count returns the number of registered sensors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sensors)
}
