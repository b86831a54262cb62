package telemetry

import (
	"database/sql"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/fkusi/sensorhub/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS cycles (
	       id            INTEGER PRIMARY KEY,
	       timestamp     INTEGER NOT NULL,
	       sensor_id     TEXT NOT NULL,
	       sensor_type   TEXT NOT NULL,
	       status        TEXT NOT NULL,
	       reason        TEXT NOT NULL DEFAULT '',
	       success       INTEGER NOT NULL CHECK (success IN (0, 1)),
	       duration_ms   INTEGER NOT NULL,
	       battery_volts REAL NOT NULL DEFAULT 0,
	       relay_on      INTEGER NOT NULL CHECK (relay_on IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS idx_cycles_sensor_time
	       ON cycles (sensor_id, timestamp);`

	insertCycleSQL = `
    INSERT INTO cycles (
        timestamp, sensor_id, sensor_type,
        status, reason, success,
        duration_ms, battery_volts, relay_on
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the schema and records the current version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("Telemetry schema initialized")
	return nil
}

// GetSchemaVersion returns the stored schema version, 0 for a fresh
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaCheckFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaCheckFailed, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, name).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// validateAndUpdateSchema recreates an out-of-date schema. History is
// disposable operational data, so a version bump drops and rebuilds
// rather than migrating.
func validateAndUpdateSchema(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	if version == SchemaVersion {
		return nil
	}

	if version != 0 {
		logger.Warn().
			Int("found", version).
			Int("want", SchemaVersion).
			Msg("Telemetry schema version mismatch, recreating")
		if err := dropTables(db); err != nil {
			return err
		}
	}

	return InitSchema(db)
}

func dropTables(db *sql.DB) error {
	errFactory := errors.New()

	for _, table := range []string{"cycles", "schema_versions"} {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.Wrap(ErrSchemaInitFailed, err)
		}
	}
	return nil
}
