package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Postgres struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

type Database struct {
	Driver   string // "postgres" or "sqlite"
	Path     string
	Postgres Postgres
}

// DeviceDefaults is the parameter set a device receives before anyone has
// configured it.
type DeviceDefaults struct {
	Country               string
	PMStandard            string
	LEDBarMode            string
	ABCDays               int
	TVOCLearningOffset    int
	NOXLearningOffset     int
	MQTTBrokerURL         string
	TemperatureUnit       string
	ConfigurationControl  string
	PostDataToAirGradient bool
	LEDBarBrightness      int
	DisplayBrightness     int
}

type Retention struct {
	MeasurementDays int
	EventDays       int
	Schedule        string
}

type API struct {
	EnableAuth     bool
	APIKey         string
	DeviceIDPrefix string
}

type Session struct {
	Secret string
	TTL    time.Duration
}

type Firmware struct {
	Dir      string
	MaxBytes int64
}

type RateLimit struct {
	RPS   int
	Burst int
}

type Config struct {
	Port         string
	Host         string
	PublicURL    string
	CORSOrigins  []string
	LogLevel     string
	LogFormat    string
	OnlineWindow time.Duration
	ActiveWindow time.Duration

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string

	RedisAddr     string
	RedisPassword string
	RateLimit     RateLimit

	OTLPEndpoint string

	Database       Database
	Session        Session
	API            API
	Firmware       Firmware
	Retention      Retention
	DeviceDefaults DeviceDefaults
}

// Load reads .env (if present), then the optional YAML file at path, then the
// process environment. Environment wins.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Port:         v.GetString("PORT"),
		Host:         v.GetString("HOST"),
		PublicURL:    strings.TrimRight(strings.TrimSpace(v.GetString("PUBLIC_URL")), "/"),
		CORSOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		LogLevel:     v.GetString("LOG_LEVEL"),
		LogFormat:    v.GetString("LOG_FORMAT"),
		OnlineWindow: v.GetDuration("ONLINE_WINDOW"),
		ActiveWindow: v.GetDuration("ACTIVE_WINDOW"),

		MQTTBrokerURL:   strings.TrimSpace(v.GetString("MQTT_BROKER_URL")),
		MQTTClientID:    v.GetString("MQTT_CLIENT_ID"),
		MQTTTopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RateLimit: RateLimit{
			RPS:   v.GetInt("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},

		OTLPEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),

		Database: Database{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			Path:   v.GetString("DB_PATH"),
			Postgres: Postgres{
				User:     strings.TrimSpace(v.GetString("POSTGRES_USER")),
				Password: v.GetString("POSTGRES_PASSWORD"),
				DBName:   strings.TrimSpace(v.GetString("POSTGRES_DB")),
				Host:     strings.TrimSpace(v.GetString("POSTGRES_HOST")),
				Port:     strings.TrimSpace(v.GetString("POSTGRES_PORT")),
				SSLMode:  v.GetString("POSTGRES_SSLMODE"),
			},
		},
		Session: Session{
			Secret: v.GetString("SESSION_SECRET"),
			TTL:    v.GetDuration("SESSION_TTL"),
		},
		API: API{
			EnableAuth:     v.GetBool("ENABLE_AUTH"),
			APIKey:         v.GetString("API_KEY"),
			DeviceIDPrefix: v.GetString("DEVICE_ID_PREFIX"),
		},
		Firmware: Firmware{
			Dir:      v.GetString("FIRMWARE_DIR"),
			MaxBytes: v.GetInt64("FIRMWARE_MAX_BYTES"),
		},
		Retention: Retention{
			MeasurementDays: v.GetInt("RETENTION_MEASUREMENT_DAYS"),
			EventDays:       v.GetInt("RETENTION_EVENT_DAYS"),
			Schedule:        strings.TrimSpace(v.GetString("RETENTION_SCHEDULE")),
		},
		DeviceDefaults: DeviceDefaults{
			Country:               v.GetString("DEVICE_DEFAULT_COUNTRY"),
			PMStandard:            v.GetString("DEVICE_DEFAULT_PM_STANDARD"),
			LEDBarMode:            v.GetString("DEVICE_DEFAULT_LED_BAR_MODE"),
			ABCDays:               v.GetInt("DEVICE_DEFAULT_ABC_DAYS"),
			TVOCLearningOffset:    v.GetInt("DEVICE_DEFAULT_TVOC_LEARNING_OFFSET"),
			NOXLearningOffset:     v.GetInt("DEVICE_DEFAULT_NOX_LEARNING_OFFSET"),
			MQTTBrokerURL:         v.GetString("DEVICE_DEFAULT_MQTT_BROKER_URL"),
			TemperatureUnit:       v.GetString("DEVICE_DEFAULT_TEMPERATURE_UNIT"),
			ConfigurationControl:  v.GetString("DEVICE_DEFAULT_CONFIGURATION_CONTROL"),
			PostDataToAirGradient: v.GetBool("DEVICE_DEFAULT_POST_DATA_TO_AIRGRADIENT"),
			LEDBarBrightness:      v.GetInt("DEVICE_DEFAULT_LED_BAR_BRIGHTNESS"),
			DisplayBrightness:     v.GetInt("DEVICE_DEFAULT_DISPLAY_BRIGHTNESS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	slog.Info("rosaiq config loaded", "port", cfg.Port, "db_driver", cfg.Database.Driver, "api_auth", cfg.API.EnableAuth, "mqtt", cfg.MQTTBrokerURL)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3000")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ONLINE_WINDOW", 2*time.Minute)
	v.SetDefault("ACTIVE_WINDOW", 10*time.Minute)

	v.SetDefault("MQTT_CLIENT_ID", "rosaiq-server")
	v.SetDefault("MQTT_TOPIC_PREFIX", "rosaiq/sensors/")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_PATH", "./rosaiq-airquality.db")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("ENABLE_AUTH", false)
	v.SetDefault("DEVICE_ID_PREFIX", "rosaiq:")

	v.SetDefault("FIRMWARE_DIR", "./firmware")
	v.SetDefault("FIRMWARE_MAX_BYTES", 16<<20)

	v.SetDefault("RETENTION_MEASUREMENT_DAYS", 365)
	v.SetDefault("RETENTION_EVENT_DAYS", 90)
	v.SetDefault("RETENTION_SCHEDULE", "@daily")

	d := Defaults()
	v.SetDefault("DEVICE_DEFAULT_COUNTRY", d.Country)
	v.SetDefault("DEVICE_DEFAULT_PM_STANDARD", d.PMStandard)
	v.SetDefault("DEVICE_DEFAULT_LED_BAR_MODE", d.LEDBarMode)
	v.SetDefault("DEVICE_DEFAULT_ABC_DAYS", d.ABCDays)
	v.SetDefault("DEVICE_DEFAULT_TVOC_LEARNING_OFFSET", d.TVOCLearningOffset)
	v.SetDefault("DEVICE_DEFAULT_NOX_LEARNING_OFFSET", d.NOXLearningOffset)
	v.SetDefault("DEVICE_DEFAULT_MQTT_BROKER_URL", d.MQTTBrokerURL)
	v.SetDefault("DEVICE_DEFAULT_TEMPERATURE_UNIT", d.TemperatureUnit)
	v.SetDefault("DEVICE_DEFAULT_CONFIGURATION_CONTROL", d.ConfigurationControl)
	v.SetDefault("DEVICE_DEFAULT_POST_DATA_TO_AIRGRADIENT", d.PostDataToAirGradient)
	v.SetDefault("DEVICE_DEFAULT_LED_BAR_BRIGHTNESS", d.LEDBarBrightness)
	v.SetDefault("DEVICE_DEFAULT_DISPLAY_BRIGHTNESS", d.DisplayBrightness)
}

// Defaults returns the factory device configuration.
func Defaults() DeviceDefaults {
	return DeviceDefaults{
		Country:               "US",
		PMStandard:            "ugm3",
		LEDBarMode:            "pm",
		ABCDays:               8,
		TVOCLearningOffset:    12,
		NOXLearningOffset:     12,
		MQTTBrokerURL:         "",
		TemperatureUnit:       "c",
		ConfigurationControl:  "local",
		PostDataToAirGradient: false,
		LEDBarBrightness:      100,
		DisplayBrightness:     100,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		for key, val := range map[string]string{
			"POSTGRES_USER": c.Database.Postgres.User,
			"POSTGRES_DB":   c.Database.Postgres.DBName,
			"POSTGRES_HOST": c.Database.Postgres.Host,
		} {
			if val == "" {
				return fmt.Errorf("missing required env %s", key)
			}
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.API.EnableAuth && strings.TrimSpace(c.API.APIKey) == "" {
		return errors.New("API_KEY is required when ENABLE_AUTH is set")
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if c.Retention.MeasurementDays <= 0 || c.Retention.EventDays <= 0 {
		return errors.New("retention windows must be positive day counts")
	}
	return nil
}
