package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store/storetest"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
)

type fakeMsg struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMsg) Topic() string   { return m.topic }
func (m fakeMsg) Payload() []byte { return m.payload }
func (m fakeMsg) Retained() bool  { return m.retained }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*store.Event
}

func (p *recordingPublisher) Publish(ev *store.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func openRepo(t *testing.T) *store.Repo {
	t.Helper()
	return storetest.Open(t, nil)
}

func TestSerialNumber(t *testing.T) {
	if got := SerialNumber("rosaiq:", "rosaiq:84fce602549c"); got != "84fce602549c" {
		t.Fatalf("expected stripped serial, got %q", got)
	}
	if got := SerialNumber("rosaiq:", "custom-42"); got != "custom-42" {
		t.Fatalf("expected id as serial, got %q", got)
	}
	if got := SerialNumber("rosaiq:", "rosaiq:"); got != "rosaiq:" {
		t.Fatalf("bare prefix must not yield empty serial, got %q", got)
	}
}

func TestParseDeviceID(t *testing.T) {
	id, err := ParseDeviceID("rosaiq/sensors/", "rosaiq/sensors/rosaiq:abc/measures")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id != "rosaiq:abc" {
		t.Fatalf("expected rosaiq:abc, got %q", id)
	}
	if _, err := ParseDeviceID("rosaiq/sensors/", "rosaiq/sensors/rosaiq:abc/status"); !errors.Is(err, ErrNotAMeasureTopic) {
		t.Fatalf("expected not-a-measures-topic, got %v", err)
	}
}

func TestRecordWithAllFieldsAbsent(t *testing.T) {
	repo := openRepo(t)
	pub := &recordingPublisher{}
	ing := &Ingestor{Repo: repo, DeviceIDPrefix: "rosaiq:", Events: pub}
	ctx := context.Background()

	m, err := ing.Record(ctx, "rosaiq:abc", Sample{}, "http")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("expected server timestamp")
	}
	if m.RCO2 != nil || m.PM02 != nil || m.ATMP != nil {
		t.Fatalf("absent fields must stay null: %+v", m.Readings)
	}

	dev, err := repo.GetDevice(ctx, "rosaiq:abc")
	if err != nil {
		t.Fatalf("device not created: %v", err)
	}
	if dev.SerialNumber != "abc" {
		t.Fatalf("expected serial abc, got %q", dev.SerialNumber)
	}
	if len(pub.events) != 1 || pub.events[0].Type != store.EventMeasurementReceived {
		t.Fatalf("expected one measurement_received event, got %+v", pub.events)
	}
}

func TestRecordPartialSampleAndDeviceMetadata(t *testing.T) {
	repo := openRepo(t)
	ing := &Ingestor{Repo: repo, DeviceIDPrefix: "rosaiq:"}
	ctx := context.Background()

	var s Sample
	if err := json.Unmarshal([]byte(`{"rco2": 0, "pm02": 12.5, "firmware": "3.1.1", "model": "I-9PSL"}`), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, err := ing.Record(ctx, "rosaiq:abc", s, "http")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if m.RCO2 == nil || *m.RCO2 != 0 {
		t.Fatalf("explicit zero must be stored, got %v", m.RCO2)
	}
	if m.ATMP != nil {
		t.Fatalf("absent atmp must be null")
	}
	dev, _ := repo.GetDevice(ctx, "rosaiq:abc")
	if dev.FirmwareVersion != "3.1.1" || dev.Model != "I-9PSL" {
		t.Fatalf("device metadata not recorded: %+v", dev)
	}

	if _, err := ing.Record(ctx, "rosaiq:abc", Sample{}, "http"); err != nil {
		t.Fatalf("record again: %v", err)
	}
	dev, _ = repo.GetDevice(ctx, "rosaiq:abc")
	if dev.FirmwareVersion != "3.1.1" {
		t.Fatalf("absent firmware must preserve version, got %q", dev.FirmwareVersion)
	}
}

func TestRecordConcurrentDevices(t *testing.T) {
	repo := openRepo(t)
	ing := &Ingestor{Repo: repo, DeviceIDPrefix: "rosaiq:"}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		for n := 0; n < 3; n++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := ing.Record(ctx, "rosaiq:"+id, Sample{}, "http"); err != nil {
					t.Errorf("record %s: %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	devs, err := repo.ListDevices(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devs))
	}
	for _, d := range devs {
		rows, err := repo.ListMeasurements(ctx, d.DeviceID, time.Time{}, time.Time{}, 0)
		if err != nil {
			t.Fatalf("list measurements: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows for %s, got %d", d.DeviceID, len(rows))
		}
	}
}

func TestRecordRejectsEmptyDeviceID(t *testing.T) {
	ing := &Ingestor{Repo: openRepo(t)}
	if _, err := ing.Record(context.Background(), "  ", Sample{}, "http"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandleMessageStoresSample(t *testing.T) {
	repo := openRepo(t)
	ing := &Ingestor{Repo: repo, DeviceIDPrefix: "rosaiq:", TopicPrefix: "rosaiq/sensors/"}
	ctx := context.Background()

	ing.HandleMessage(ctx, fakeMsg{topic: "rosaiq/sensors/rosaiq:abc/measures", payload: []byte(`{"rco2": 612}`)})
	ing.HandleMessage(ctx, fakeMsg{topic: "rosaiq/sensors/rosaiq:abc/measures", payload: []byte(`{"rco2": 700}`), retained: true})
	ing.HandleMessage(ctx, fakeMsg{topic: "rosaiq/sensors/rosaiq:abc/measures", payload: []byte(`not json`)})

	rows, err := repo.ListMeasurements(ctx, "rosaiq:abc", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].RCO2 == nil || *rows[0].RCO2 != 612 {
		t.Fatalf("expected only the live sample stored, got %d rows", len(rows))
	}
}

func TestIdentifyCreatesDevice(t *testing.T) {
	repo := openRepo(t)
	ing := &Ingestor{Repo: repo, DeviceIDPrefix: "rosaiq:"}
	dev, err := ing.Identify(context.Background(), "rosaiq:xyz")
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if dev.SerialNumber != "xyz" {
		t.Fatalf("expected serial xyz, got %q", dev.SerialNumber)
	}
}
