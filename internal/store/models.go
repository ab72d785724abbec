package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Username     string     `json:"username" gorm:"uniqueIndex;not null;size:64"`
	PasswordHash string     `json:"-" gorm:"not null"`
	Role         string     `json:"role" gorm:"size:16;not null"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

const (
	DeviceStatusActive = "active"
)

// Device is keyed by the identifier the device sends on the wire
// (e.g. "rosaiq:84fce602549c"), not by its hardware serial.
type Device struct {
	DeviceID        string     `json:"device_id" gorm:"primaryKey;size:128"`
	SerialNumber    string     `json:"serial_number" gorm:"uniqueIndex;not null;size:128"`
	Name            string     `json:"name"`
	Location        string     `json:"location"`
	Notes           string     `json:"notes"`
	Model           string     `json:"model"`
	FirmwareVersion string     `json:"firmware_version"`
	OwnerID         *uuid.UUID `json:"owner_id" gorm:"type:uuid;index"`
	Owner           *User      `json:"-" gorm:"foreignKey:OwnerID;constraint:OnDelete:SET NULL"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen" gorm:"index"`
	Status          string     `json:"status" gorm:"size:16"`
}

func (Device) TableName() string { return "devices" }

// DeviceConfig is the parameter set served to the device. JSON names follow
// the device firmware's expectations.
type DeviceConfig struct {
	DeviceID              string    `json:"-" gorm:"primaryKey;size:128"`
	Device                *Device   `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID;constraint:OnDelete:CASCADE"`
	Country               string    `json:"country" gorm:"column:country"`
	PMStandard            string    `json:"pmStandard" gorm:"column:pm_standard"`
	LEDBarMode            string    `json:"ledBarMode" gorm:"column:led_bar_mode"`
	ABCDays               int       `json:"abcDays" gorm:"column:abc_days"`
	TVOCLearningOffset    int       `json:"tvocLearningOffset" gorm:"column:tvoc_learning_offset"`
	NOXLearningOffset     int       `json:"noxLearningOffset" gorm:"column:nox_learning_offset"`
	MQTTBrokerURL         string    `json:"mqttBrokerUrl" gorm:"column:mqtt_broker_url"`
	TemperatureUnit       string    `json:"temperatureUnit" gorm:"column:temperature_unit"`
	ConfigurationControl  string    `json:"configurationControl" gorm:"column:configuration_control"`
	PostDataToAirGradient bool      `json:"postDataToAirGradient" gorm:"column:post_data_to_airgradient"`
	LEDBarBrightness      int       `json:"ledBarBrightness" gorm:"column:led_bar_brightness"`
	DisplayBrightness     int       `json:"displayBrightness" gorm:"column:display_brightness"`
	UpdatedAt             time.Time `json:"-" gorm:"column:updated_at"`
}

func (DeviceConfig) TableName() string { return "device_configs" }

// Readings are the sensor values of one sample. Every field is optional; an
// absent value is stored as NULL.
type Readings struct {
	WifiRSSI        *int     `json:"wifi,omitempty" gorm:"column:wifi_rssi"`
	RCO2            *int     `json:"rco2,omitempty" gorm:"column:rco2"`
	PM01            *float64 `json:"pm01,omitempty" gorm:"column:pm01"`
	PM02            *float64 `json:"pm02,omitempty" gorm:"column:pm02"`
	PM10            *float64 `json:"pm10,omitempty" gorm:"column:pm10"`
	PM02Compensated *float64 `json:"pm02Compensated,omitempty" gorm:"column:pm02_compensated"`
	PM003Count      *int     `json:"pm003Count,omitempty" gorm:"column:pm003_count"`
	PM005Count      *int     `json:"pm005Count,omitempty" gorm:"column:pm005_count"`
	PM01Count       *int     `json:"pm01Count,omitempty" gorm:"column:pm01_count"`
	PM02Count       *int     `json:"pm02Count,omitempty" gorm:"column:pm02_count"`
	PM50Count       *int     `json:"pm50Count,omitempty" gorm:"column:pm50_count"`
	PM10Count       *int     `json:"pm10Count,omitempty" gorm:"column:pm10_count"`
	ATMP            *float64 `json:"atmp,omitempty" gorm:"column:atmp"`
	ATMPCompensated *float64 `json:"atmpCompensated,omitempty" gorm:"column:atmp_compensated"`
	RHUM            *float64 `json:"rhum,omitempty" gorm:"column:rhum"`
	RHUMCompensated *float64 `json:"rhumCompensated,omitempty" gorm:"column:rhum_compensated"`
	TVOCIndex       *int     `json:"tvocIndex,omitempty" gorm:"column:tvoc_index"`
	TVOCRaw         *int     `json:"tvocRaw,omitempty" gorm:"column:tvoc_raw"`
	NOXIndex        *int     `json:"noxIndex,omitempty" gorm:"column:nox_index"`
	NOXRaw          *int     `json:"noxRaw,omitempty" gorm:"column:nox_raw"`
	Boot            *int     `json:"boot,omitempty" gorm:"column:boot"`
}

type Measurement struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DeviceID  string    `json:"device_id" gorm:"size:128;not null;index:idx_measurements_device_ts,priority:1"`
	Device    *Device   `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID;constraint:OnDelete:CASCADE"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_measurements_device_ts,priority:2;index:idx_measurements_ts"`
	Readings
}

func (Measurement) TableName() string { return "measurements" }

const (
	EventMeasurementReceived = "measurement_received"
	EventConfigUpdated       = "config_updated"
	EventOTAUpdate           = "ota_update"
	EventDeviceClaimed       = "device_claimed"
	EventDeviceAssigned      = "device_assigned"
	EventDeviceUnassigned    = "device_unassigned"
	EventFirmwareUploaded    = "firmware_uploaded"
	EventFirmwareDeleted     = "firmware_deleted"
)

type Event struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	DeviceID  *string        `json:"device_id" gorm:"size:128;index"`
	Device    *Device        `json:"-" gorm:"foreignKey:DeviceID;references:DeviceID;constraint:OnDelete:CASCADE"`
	Type      string         `json:"event_type" gorm:"size:64;not null;index"`
	Data      datatypes.JSON `json:"event_data"`
	Timestamp time.Time      `json:"timestamp" gorm:"not null;index"`
}

func (Event) TableName() string { return "events" }

// Firmware is one uploaded image. "Latest" is the most recent upload, not the
// highest version.
type Firmware struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Version    string    `json:"version" gorm:"uniqueIndex;not null;size:64"`
	Filename   string    `json:"filename" gorm:"not null"`
	Path       string    `json:"-" gorm:"not null"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	UploadedBy string    `json:"uploaded_by"`
	Notes      string    `json:"notes"`
	UploadedAt time.Time `json:"uploaded_at" gorm:"not null;index"`
}

func (Firmware) TableName() string { return "firmware" }
