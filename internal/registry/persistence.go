package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
	"github.com/fkusi/sensorhub/internal/sensor"
)

const storeFilePerm = 0o600

// Save writes a full snapshot of the registry to disk. The snapshot
// is written to a temp file in the same directory and renamed over
// the store, so a reader never observes a half-written file.
func (r *Registry) Save() error {
	errFactory := errors.New()

	// Serialized: a later save always snapshots at least as fresh a
	// state as the one before it, and renames land in that order.
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	data, err := json.MarshalIndent(r.sensors, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return errFactory.Wrap(ErrSaveFailed, err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errFactory.Wrap(ErrSaveFailed, err)
	}

	tmp, err := os.CreateTemp(dir, ".sensors-*.tmp")
	if err != nil {
		return errFactory.Wrap(ErrSaveFailed, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errFactory.Wrap(ErrSaveFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrSaveFailed, err)
	}
	if err := os.Chmod(tmpName, storeFilePerm); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrSaveFailed, err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return errFactory.Wrap(ErrSaveFailed, err)
	}

	logger.Debug().Str("path", r.path).Int("sensors", r.Count()).Msg("Registry snapshot saved")

	return nil
}

// Load restores the registry from disk. Individual records that fail
// to decode are skipped and logged; they never abort the whole load.
// A file that cannot be parsed at all is backed up next to the store
// rather than discarded, and an empty registry is the result.
func (r *Registry) Load() error {
	errFactory := errors.New()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("path", r.path).Msg("No sensor store found, starting empty")
			return nil
		}
		return errFactory.Wrap(ErrLoadFailed, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		backup := r.backupCorrupt(data)
		logger.Error().
			Err(err).
			Str("path", r.path).
			Str("backup", backup).
			Msg("Sensor store is corrupt, starting empty")
		return nil
	}

	loaded := make(map[string]*sensor.Sensor, len(raw))
	skipped := 0
	for id, entry := range raw {
		var s sensor.Sensor
		if err := json.Unmarshal(entry, &s); err != nil {
			skipped++
			logger.Error().Err(err).Str("sensor_id", id).Msg("Skipping unparseable sensor record")
			continue
		}
		if s.ID == "" {
			s.ID = id
		}
		loaded[s.ID] = &s
	}

	r.mu.Lock()
	r.sensors = loaded
	r.mu.Unlock()

	logger.Info().
		Str("path", r.path).
		Int("sensors", len(loaded)).
		Int("skipped", skipped).
		Msg("Sensor store loaded")

	return nil
}

// backupCorrupt preserves an unparseable store file and returns the
// backup path. Best effort; an empty string means the backup itself
// failed.
func (r *Registry) backupCorrupt(data []byte) string {
	backup := fmt.Sprintf("%s.corrupt-%s", r.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(backup, data, storeFilePerm); err != nil {
		logger.Error().Err(err).Str("path", backup).Msg("Failed to back up corrupt store")
		return ""
	}
	return backup
}
