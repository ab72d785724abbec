package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/NASA-0007/Rosaiq-Trial/internal/observability"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
)

var ErrNotAMeasureTopic = errors.New("not a measures topic")

// Sample is one telemetry post as the device sends it. Firmware and model are
// optional and only update the device record when present.
type Sample struct {
	store.Readings
	Firmware string `json:"firmware,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Publisher receives events after they are committed.
type Publisher interface {
	Publish(ev *store.Event)
}

type Ingestor struct {
	Repo *store.Repo
	// DeviceIDPrefix is stripped from a device id to obtain its serial number.
	DeviceIDPrefix string
	Events         Publisher

	TopicPrefix  string
	AllowRetains bool
}

// Record ensures the device exists and appends the sample. Each call touches
// only rows of its own device.
func (i *Ingestor) Record(ctx context.Context, deviceID string, s Sample, transport string) (*store.Measurement, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", apperr.ErrValidation)
	}
	if _, err := i.Repo.EnsureDevice(ctx, deviceID, SerialNumber(i.DeviceIDPrefix, deviceID), s.Model, s.Firmware); err != nil {
		return nil, err
	}
	m, err := i.Repo.InsertMeasurement(ctx, deviceID, s.Readings)
	if err != nil {
		return nil, err
	}
	observability.MeasurementIngested(transport)

	ev, err := i.Repo.RecordEvent(ctx, deviceID, store.EventMeasurementReceived, map[string]any{
		"measurement_id": m.ID,
		"rco2":           s.RCO2,
		"pm02":           s.PM02,
		"atmp":           s.ATMP,
		"rhum":           s.RHUM,
		"tvoc_index":     s.TVOCIndex,
		"nox_index":      s.NOXIndex,
	})
	if err != nil {
		// the measurement itself is committed
		slog.Warn("ingest event append failed", "device_id", deviceID, "error", err)
		return m, nil
	}
	if i.Events != nil {
		i.Events.Publish(ev)
	}
	slog.Debug("measurement stored", "device_id", deviceID, "ts", m.Timestamp, "transport", transport)
	return m, nil
}

// Identify registers or refreshes a device that contacted the server without
// telemetry, e.g. a config fetch.
func (i *Ingestor) Identify(ctx context.Context, deviceID string) (*store.Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", apperr.ErrValidation)
	}
	return i.Repo.EnsureDevice(ctx, deviceID, SerialNumber(i.DeviceIDPrefix, deviceID), "", "")
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

// HandleMessage ingests a sample published on <TopicPrefix><deviceId>/measures.
func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("ingest ignoring retained", "topic", topic)
		return
	}
	deviceID, err := ParseDeviceID(i.TopicPrefix, topic)
	if err != nil {
		if !errors.Is(err, ErrNotAMeasureTopic) {
			slog.Warn("ingest topic parse failed", "topic", topic, "error", err)
		}
		return
	}
	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		slog.Warn("ingest invalid json", "topic", topic, "device_id", deviceID, "error", err)
		return
	}
	if _, err := i.Record(ctx, deviceID, s, "mqtt"); err != nil {
		slog.Error("ingest mqtt record failed", "topic", topic, "device_id", deviceID, "error", err)
	}
}

func ParseDeviceID(prefix, topic string) (string, error) {
	if prefix == "" {
		prefix = "rosaiq/sensors/"
	}
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/measures") {
		return "", ErrNotAMeasureTopic
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/measures")
	id = strings.Trim(id, "/")
	if id == "" {
		return "", errors.New("empty device id")
	}
	return id, nil
}

// SerialNumber derives the hardware serial from a wire id such as
// "rosaiq:84fce602549c". Ids without the prefix are their own serial.
func SerialNumber(prefix, deviceID string) string {
	if prefix != "" && strings.HasPrefix(deviceID, prefix) {
		if s := strings.TrimPrefix(deviceID, prefix); s != "" {
			return s
		}
	}
	return deviceID
}
