package registry

import "github.com/fkusi/sensorhub/internal/errors"

const (
	ErrNotFound     = errors.ErrSensorNotFound
	ErrInvalidStore = errors.ErrorCode("registry_invalid_store")
	ErrSaveFailed   = errors.ErrorCode("registry_save_failed")
	ErrLoadFailed   = errors.ErrorCode("registry_load_failed")
)
