package sensor

import "time"

// Type identifies the kind of field sensor and selects the adapter
// used to fetch from it.
type Type string

const (
	TypePurpleAir    Type = "purple_air"
	TypeTempest      Type = "tempest"
	TypeWaterQuality Type = "water_quality"
	TypeVoltageMeter Type = "voltage_meter"
)

// IsValid returns whether the sensor type is known
func (t Type) IsValid() bool {
	switch t {
	case TypePurpleAir, TypeTempest, TypeWaterQuality, TypeVoltageMeter:
		return true
	default:
		return false
	}
}

// Status describes the health of a sensor as of the last completed
// fetch cycle.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusSleeping Status = "sleeping"
	StatusWaking   Status = "waking"
	StatusError    Status = "error"
	StatusOffline  Status = "offline"
)

// IsHealthy reports whether the status belongs to the healthy set.
// Sleeping and waking sensors are healthy: they are duty-cycled on
// purpose, not broken.
func (s Status) IsHealthy() bool {
	switch s {
	case StatusActive, StatusSleeping, StatusWaking:
		return true
	default:
		return false
	}
}

// PowerMode selects between continuous operation and relay duty-cycling.
type PowerMode string

const (
	PowerNormal PowerMode = "normal"
	PowerSaving PowerMode = "power_saving"
)

func (m PowerMode) IsValid() bool {
	return m == PowerNormal || m == PowerSaving
}

// Classification reason tags. Adapter error kinds pass through as-is.
const (
	ReasonSleeping   = "sleeping"
	ReasonBatteryLow = "battery_low"
	ReasonWifiError  = "wifi_error"
)

// MeterState caches the last telemetry snapshot read from a linked
// voltage meter.
type MeterState struct {
	BatteryVolts float64    `json:"battery_volts"`
	RelayOn      bool       `json:"relay_on"`
	AutoMode     bool       `json:"auto_mode"`
	VCutoff      float64    `json:"v_cutoff"`
	VReconnect   float64    `json:"v_reconnect"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// PendingCommands holds meter commands issued from the control surface
// that have not been acknowledged by the device yet. Each field is
// cleared once the device confirms it.
type PendingCommands struct {
	RelayMode         string   `json:"relay_mode,omitempty"`
	CalibrationTarget *float64 `json:"calibration_target,omitempty"`
	CalibrationFactor *float64 `json:"calibration_factor,omitempty"`
}

// Sensor is the durable record for one registered field sensor.
type Sensor struct {
	ID       string `json:"id"`
	Type     Type   `json:"sensor_type"`
	Name     string `json:"name"`
	Location string `json:"location"`

	// Address is the local network address for sensors reached
	// directly; empty for cloud-subscribed sensors.
	Address string `json:"address,omitempty"`

	// DeviceID identifies the device on its cloud service (Tempest).
	DeviceID string `json:"device_id,omitempty"`

	// MeterID is a weak reference to the voltage_meter sensor that
	// powers this one. Lookup only, never ownership.
	MeterID string `json:"meter_id,omitempty"`

	// UploadToken authenticates uploads to the remote store. Never
	// included in outward views or info-level logs.
	UploadToken string `json:"upload_token"`

	PowerMode       PowerMode `json:"power_mode"`
	PollingInterval int       `json:"polling_interval_seconds"`

	Status       Status `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`
	IsActive     bool   `json:"is_active"`

	LastActive *time.Time `json:"last_active,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Meter   MeterState      `json:"meter"`
	Pending PendingCommands `json:"pending"`
}

// View is the outward read model: every Sensor field except the
// upload token.
type View struct {
	ID              string          `json:"id"`
	Type            Type            `json:"sensor_type"`
	Name            string          `json:"name"`
	Location        string          `json:"location"`
	Address         string          `json:"address,omitempty"`
	DeviceID        string          `json:"device_id,omitempty"`
	MeterID         string          `json:"meter_id,omitempty"`
	PowerMode       PowerMode       `json:"power_mode"`
	PollingInterval int             `json:"polling_interval_seconds"`
	Status          Status          `json:"status"`
	StatusReason    string          `json:"status_reason,omitempty"`
	IsActive        bool            `json:"is_active"`
	LastActive      *time.Time      `json:"last_active,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Meter           MeterState      `json:"meter"`
	Pending         PendingCommands `json:"pending"`
}

// View returns the redacted read model for this sensor.
func (s *Sensor) View() View {
	return View{
		ID:              s.ID,
		Type:            s.Type,
		Name:            s.Name,
		Location:        s.Location,
		Address:         s.Address,
		DeviceID:        s.DeviceID,
		MeterID:         s.MeterID,
		PowerMode:       s.PowerMode,
		PollingInterval: s.PollingInterval,
		Status:          s.Status,
		StatusReason:    s.StatusReason,
		IsActive:        s.IsActive,
		LastActive:      s.LastActive,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
		Meter:           s.Meter,
		Pending:         s.Pending,
	}
}

// Clone returns a deep copy so callers can hand out records without
// aliasing registry state.
func (s *Sensor) Clone() *Sensor {
	c := *s
	if s.LastActive != nil {
		t := *s.LastActive
		c.LastActive = &t
	}
	if s.Meter.UpdatedAt != nil {
		t := *s.Meter.UpdatedAt
		c.Meter.UpdatedAt = &t
	}
	if s.Pending.CalibrationTarget != nil {
		v := *s.Pending.CalibrationTarget
		c.Pending.CalibrationTarget = &v
	}
	if s.Pending.CalibrationFactor != nil {
		v := *s.Pending.CalibrationFactor
		c.Pending.CalibrationFactor = &v
	}
	return &c
}
