package telemetry

import "github.com/fkusi/sensorhub/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Recording errors
	ErrInvalidRecord = errors.ErrorCode("telemetry_invalid_record")
	ErrRecordFailed  = errors.ErrorCode("telemetry_record_failed")

	// Storage errors
	ErrStorageInit       = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageAccess     = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageClose      = errors.ErrorCode("telemetry_storage_close_failed")
	ErrSchemaInitFailed  = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaCheckFailed = errors.ErrorCode("telemetry_schema_check_failed")
	ErrTransactionFailed = errors.ErrorCode("telemetry_transaction_failed")
)
