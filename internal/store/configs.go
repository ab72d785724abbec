package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"gorm.io/gorm/clause"
)

var (
	pmStandards     = []string{"ugm3", "us-aqi"}
	ledBarModes     = []string{"co2", "pm", "off"}
	tempUnits       = []string{"c", "f"}
	controlSettings = []string{"local", "cloud", "both"}
)

// ConfigPatch is a partial configuration. A nil field is left untouched, so
// concurrent patches that touch different fields never clobber each other.
type ConfigPatch struct {
	Country               *string `json:"country,omitempty"`
	PMStandard            *string `json:"pmStandard,omitempty"`
	LEDBarMode            *string `json:"ledBarMode,omitempty"`
	ABCDays               *int    `json:"abcDays,omitempty"`
	TVOCLearningOffset    *int    `json:"tvocLearningOffset,omitempty"`
	NOXLearningOffset     *int    `json:"noxLearningOffset,omitempty"`
	MQTTBrokerURL         *string `json:"mqttBrokerUrl,omitempty"`
	TemperatureUnit       *string `json:"temperatureUnit,omitempty"`
	ConfigurationControl  *string `json:"configurationControl,omitempty"`
	PostDataToAirGradient *bool   `json:"postDataToAirGradient,omitempty"`
	LEDBarBrightness      *int    `json:"ledBarBrightness,omitempty"`
	DisplayBrightness     *int    `json:"displayBrightness,omitempty"`
}

func (p ConfigPatch) Validate() error {
	if p.PMStandard != nil && !slices.Contains(pmStandards, *p.PMStandard) {
		return invalidChoice("pmStandard", *p.PMStandard, pmStandards)
	}
	if p.LEDBarMode != nil && !slices.Contains(ledBarModes, *p.LEDBarMode) {
		return invalidChoice("ledBarMode", *p.LEDBarMode, ledBarModes)
	}
	if p.TemperatureUnit != nil && !slices.Contains(tempUnits, *p.TemperatureUnit) {
		return invalidChoice("temperatureUnit", *p.TemperatureUnit, tempUnits)
	}
	if p.ConfigurationControl != nil && !slices.Contains(controlSettings, *p.ConfigurationControl) {
		return invalidChoice("configurationControl", *p.ConfigurationControl, controlSettings)
	}
	if p.ABCDays != nil && *p.ABCDays < 0 {
		return fmt.Errorf("%w: abcDays must not be negative", apperr.ErrValidation)
	}
	for name, v := range map[string]*int{"ledBarBrightness": p.LEDBarBrightness, "displayBrightness": p.DisplayBrightness} {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%w: %s must be between 0 and 100", apperr.ErrValidation, name)
		}
	}
	return nil
}

// Fields lists the JSON names of the fields present in the patch.
func (p ConfigPatch) Fields() []string {
	var out []string
	for _, c := range p.columns() {
		out = append(out, c.field)
	}
	return out
}

type patchColumn struct {
	field  string
	column string
	value  any
}

func (p ConfigPatch) columns() []patchColumn {
	var cols []patchColumn
	add := func(field, column string, present bool, value any) {
		if present {
			cols = append(cols, patchColumn{field: field, column: column, value: value})
		}
	}
	add("country", "country", p.Country != nil, deref(p.Country))
	add("pmStandard", "pm_standard", p.PMStandard != nil, deref(p.PMStandard))
	add("ledBarMode", "led_bar_mode", p.LEDBarMode != nil, deref(p.LEDBarMode))
	add("abcDays", "abc_days", p.ABCDays != nil, deref(p.ABCDays))
	add("tvocLearningOffset", "tvoc_learning_offset", p.TVOCLearningOffset != nil, deref(p.TVOCLearningOffset))
	add("noxLearningOffset", "nox_learning_offset", p.NOXLearningOffset != nil, deref(p.NOXLearningOffset))
	add("mqttBrokerUrl", "mqtt_broker_url", p.MQTTBrokerURL != nil, deref(p.MQTTBrokerURL))
	add("temperatureUnit", "temperature_unit", p.TemperatureUnit != nil, deref(p.TemperatureUnit))
	add("configurationControl", "configuration_control", p.ConfigurationControl != nil, deref(p.ConfigurationControl))
	add("postDataToAirGradient", "post_data_to_airgradient", p.PostDataToAirGradient != nil, deref(p.PostDataToAirGradient))
	add("ledBarBrightness", "led_bar_brightness", p.LEDBarBrightness != nil, deref(p.LEDBarBrightness))
	add("displayBrightness", "display_brightness", p.DisplayBrightness != nil, deref(p.DisplayBrightness))
	return cols
}

// GetConfig returns the device's configuration, materializing the defaults on
// first read.
func (r *Repo) GetConfig(ctx context.Context, deviceID string) (*DeviceConfig, error) {
	if _, err := r.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if err := r.ensureConfig(ctx, deviceID); err != nil {
		return nil, err
	}
	var cfg DeviceConfig
	if err := r.db.WithContext(ctx).Take(&cfg, "device_id = ?", deviceID).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig applies the present fields of patch in a single UPDATE and
// returns the merged result.
func (r *Repo) SetConfig(ctx context.Context, deviceID string, patch ConfigPatch) (*DeviceConfig, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if err := r.ensureConfig(ctx, deviceID); err != nil {
		return nil, err
	}
	if cols := patch.columns(); len(cols) > 0 {
		updates := map[string]any{"updated_at": r.clock()}
		for _, c := range cols {
			updates[c.column] = c.value
		}
		if err := r.db.WithContext(ctx).Model(&DeviceConfig{}).Where("device_id = ?", deviceID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.GetConfig(ctx, deviceID)
}

func (r *Repo) ensureConfig(ctx context.Context, deviceID string) error {
	d := r.defaults
	row := &DeviceConfig{
		DeviceID:              deviceID,
		Country:               d.Country,
		PMStandard:            d.PMStandard,
		LEDBarMode:            d.LEDBarMode,
		ABCDays:               d.ABCDays,
		TVOCLearningOffset:    d.TVOCLearningOffset,
		NOXLearningOffset:     d.NOXLearningOffset,
		MQTTBrokerURL:         d.MQTTBrokerURL,
		TemperatureUnit:       d.TemperatureUnit,
		ConfigurationControl:  d.ConfigurationControl,
		PostDataToAirGradient: d.PostDataToAirGradient,
		LEDBarBrightness:      d.LEDBarBrightness,
		DisplayBrightness:     d.DisplayBrightness,
		UpdatedAt:             r.clock(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(row).Error
}

func invalidChoice(field, got string, allowed []string) error {
	return fmt.Errorf("%w: %s must be one of %s, got %q", apperr.ErrValidation, field, strings.Join(allowed, ", "), got)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
