package telemetry

import "github.com/fkusi/sensorhub/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultBatchSize    = 8
	defaultBatchTimeout = 30
)

type Config struct {
	DBPath string

	// BatchSize is the number of records buffered before a flush;
	// BatchTimeout (seconds) bounds how long a record may sit in the
	// buffer.
	BatchSize    int
	BatchTimeout int
}

func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:       dbPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 || c.BatchTimeout <= 0 {
		return errFactory.New(ErrInvalidConfig)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
