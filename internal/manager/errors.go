package manager

import "github.com/fkusi/sensorhub/internal/errors"

const (
	ErrNotFound       = errors.ErrSensorNotFound
	ErrDuplicate      = errors.ErrSensorExists
	ErrInvalidSensor  = errors.ErrInvalidSensor
	ErrInvalidAddress = errors.ErrInvalidAddress
	ErrMeterNotLinked = errors.ErrMeterNotLinked
	ErrMeterCommand   = errors.ErrMeterUnreachable
	ErrInvalidValue   = errors.ErrInvalidArgument
)
