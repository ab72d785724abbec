package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RecordEvent appends to the event log. An empty deviceID records a
// fleet-level event.
func (r *Repo) RecordEvent(ctx context.Context, deviceID, eventType string, data any) (*Event, error) {
	ev := &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: r.clock(),
	}
	if deviceID != "" {
		ev.DeviceID = &deviceID
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = datatypes.JSON(raw)
	}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvents returns a device's events newest first.
func (r *Repo) ListEvents(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	var rows []Event
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteEventsBefore removes events strictly older than cutoff.
func (r *Repo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&Event{})
	return res.RowsAffected, res.Error
}
