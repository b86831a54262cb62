package config

import (
	"os"

	"github.com/fkusi/sensorhub/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel      = "info"
	defaultListen        = ":8800"
	defaultStorePath     = "sensors.json"
	defaultTelemetryDB   = "telemetry.db"
	defaultPollInterval  = 60
	defaultAlertCooldown = 300
	defaultUploadTimeout = 30
	defaultUploadURL     = "https://oberlin.communityhub.cloud/api/data-hub/upload/csv"
	defaultTempestWSURL  = "wss://ws.weatherflow.com/swd/data"
	defaultUbidotsURL    = "https://industrial.api.ubidots.com/api/v2.0"
	defaultMQTTTopic     = "sensorhub/alerts"
	defaultMQTTClientID  = "sensorhub"
)

type Config struct {
	Listen        string `mapstructure:"listen"`
	StorePath     string `mapstructure:"store"`
	Telemetry     bool   `mapstructure:"telemetry"`
	TelemetryDB   string `mapstructure:"telemetry_db"`
	PollInterval  int    `mapstructure:"poll_interval"`
	AlertCooldown int    `mapstructure:"alert_cooldown"`
	UploadURL     string `mapstructure:"upload_url"`
	UploadTimeout int    `mapstructure:"upload_timeout"`
	TempestWSURL  string `mapstructure:"tempest_ws_url"`
	TempestToken  string `mapstructure:"tempest_token"`
	UbidotsURL    string `mapstructure:"ubidots_url"`
	UbidotsToken  string `mapstructure:"ubidots_token"`
	MQTTBroker    string `mapstructure:"mqtt_broker"`
	MQTTTopic     string `mapstructure:"mqtt_topic"`
	MQTTClientID  string `mapstructure:"mqtt_client_id"`
	MQTTUsername  string `mapstructure:"mqtt_username"`
	MQTTPassword  string `mapstructure:"mqtt_password"`
	LogLevel      string `mapstructure:"log_level"`
	Debug         bool   `mapstructure:"debug"`
	Verbose       bool   `mapstructure:"verbose"`
}

// Load reads configuration from, in order of increasing precedence,
// built-in defaults, the config file, SENSORHUB_* environment
// variables, and command line flags.
func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.String("listen", defaultListen, "HTTP listen address")
	flags.String("store", defaultStorePath, "Path to the sensor store file")
	flags.Bool("telemetry", false, "Enable poll cycle telemetry")
	flags.String("telemetry-db", defaultTelemetryDB, "Path to the telemetry database")
	flags.Int("poll-interval", defaultPollInterval, "Default polling interval in seconds")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindFlag(v, flags, "listen", "listen")
	bindFlag(v, flags, "store", "store")
	bindFlag(v, flags, "telemetry", "telemetry")
	bindFlag(v, flags, "telemetry_db", "telemetry-db")
	bindFlag(v, flags, "poll_interval", "poll-interval")
	bindFlag(v, flags, "log_level", "log-level")
	bindFlag(v, flags, "debug", "debug")
	bindFlag(v, flags, "verbose", "verbose")

	v.SetConfigName("sensorhub")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc/sensorhub")
	v.AddConfigPath(".")
	if path := os.Getenv("SENSORHUB_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SENSORHUB")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the loaded values make sense together.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "warn", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.PollInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.PollInterval)
	}

	if c.AlertCooldown < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "alert_cooldown must not be negative")
	}

	if c.StorePath == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "store")
	}

	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "telemetry_db")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", defaultListen)
	v.SetDefault("store", defaultStorePath)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", defaultTelemetryDB)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("alert_cooldown", defaultAlertCooldown)
	v.SetDefault("upload_url", defaultUploadURL)
	v.SetDefault("upload_timeout", defaultUploadTimeout)
	v.SetDefault("tempest_ws_url", defaultTempestWSURL)
	v.SetDefault("tempest_token", "")
	v.SetDefault("ubidots_url", defaultUbidotsURL)
	v.SetDefault("ubidots_token", "")
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic", defaultMQTTTopic)
	v.SetDefault("mqtt_client_id", defaultMQTTClientID)
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
}

// Only explicitly set flags override the config file.
func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, flagName string) {
	if f := flags.Lookup(flagName); f != nil && f.Changed {
		v.Set(key, f.Value.String())
	}
}
