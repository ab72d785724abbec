package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureDevice registers a device on first contact and refreshes last_seen on
// every later one. Model and firmware version are only overwritten when the
// caller knows them. Concurrent first contacts converge on a single row.
func (r *Repo) EnsureDevice(ctx context.Context, deviceID, serial, model, firmwareVersion string) (*Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	serial = strings.TrimSpace(serial)
	if deviceID == "" || serial == "" {
		return nil, fmt.Errorf("%w: device id and serial number are required", apperr.ErrValidation)
	}
	now := r.clock()
	dev := &Device{
		DeviceID:        deviceID,
		SerialNumber:    serial,
		Model:           strings.TrimSpace(model),
		FirmwareVersion: strings.TrimSpace(firmwareVersion),
		FirstSeen:       now,
		LastSeen:        now,
		Status:          DeviceStatusActive,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_seen":        now,
			"model":            gorm.Expr("COALESCE(NULLIF(excluded.model, ''), devices.model)"),
			"firmware_version": gorm.Expr("COALESCE(NULLIF(excluded.firmware_version, ''), devices.firmware_version)"),
		}),
	}).Create(dev).Error
	if err != nil {
		var other Device
		if lookup := r.db.WithContext(ctx).Where("serial_number = ? AND device_id <> ?", serial, deviceID).Take(&other).Error; lookup == nil {
			return nil, ErrDuplicateSerial
		}
		return nil, err
	}
	return r.GetDevice(ctx, deviceID)
}

func (r *Repo) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var dev Device
	if err := r.db.WithContext(ctx).Take(&dev, "device_id = ?", deviceID).Error; err != nil {
		return nil, notFound(err, ErrDeviceNotFound)
	}
	return &dev, nil
}

func (r *Repo) GetDeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	var dev Device
	if err := r.db.WithContext(ctx).Take(&dev, "serial_number = ?", strings.TrimSpace(serial)).Error; err != nil {
		return nil, notFound(err, ErrDeviceNotFound)
	}
	return &dev, nil
}

// ListDevices returns every device, or only those owned by ownerID when it is
// set. Most recently seen first.
func (r *Repo) ListDevices(ctx context.Context, ownerID *uuid.UUID) ([]Device, error) {
	q := r.db.WithContext(ctx).Order("last_seen desc, device_id asc")
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	var rows []Device
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DevicePatch carries the dashboard-editable fields. Nil means unchanged.
type DevicePatch struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	Notes    *string `json:"notes"`
}

func (r *Repo) UpdateDevice(ctx context.Context, deviceID string, patch DevicePatch) (*Device, error) {
	if _, err := r.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Location != nil {
		updates["location"] = strings.TrimSpace(*patch.Location)
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(&Device{}).Where("device_id = ?", deviceID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.GetDevice(ctx, deviceID)
}

// TouchDevice marks the device as seen now. Unknown devices are ignored.
func (r *Repo) TouchDevice(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).Model(&Device{}).Where("device_id = ?", deviceID).Update("last_seen", r.clock()).Error
}

// ClaimDevice gives an unowned device, found by serial number, to userID.
// Claiming a device the caller already owns succeeds without change.
func (r *Repo) ClaimDevice(ctx context.Context, serial string, userID uuid.UUID) (*Device, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, fmt.Errorf("%w: serial_number is required", apperr.ErrValidation)
	}
	dev, err := r.GetDeviceBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != nil {
		if *dev.OwnerID == userID {
			return dev, nil
		}
		return nil, ErrAlreadyOwned
	}
	res := r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ? AND owner_id IS NULL", dev.DeviceID).
		Update("owner_id", userID)
	if res.Error != nil {
		return nil, res.Error
	}
	cur, err := r.GetDevice(ctx, dev.DeviceID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && (cur.OwnerID == nil || *cur.OwnerID != userID) {
		// someone else won the race
		return nil, ErrAlreadyOwned
	}
	return cur, nil
}

// AssignDevice sets the owner unconditionally.
func (r *Repo) AssignDevice(ctx context.Context, deviceID string, userID uuid.UUID) (*Device, error) {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := r.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&Device{}).Where("device_id = ?", deviceID).Update("owner_id", userID).Error; err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, deviceID)
}

func (r *Repo) UnassignDevice(ctx context.Context, deviceID string) (*Device, error) {
	if _, err := r.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&Device{}).Where("device_id = ?", deviceID).Update("owner_id", nil).Error; err != nil {
		return nil, err
	}
	return r.GetDevice(ctx, deviceID)
}

// DeleteDevice removes the device and everything hanging off it.
func (r *Repo) DeleteDevice(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&DeviceConfig{}, &Measurement{}, &Event{}} {
			if err := tx.Where("device_id = ?", deviceID).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("device_id = ?", deviceID).Delete(&Device{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDeviceNotFound
		}
		return nil
	})
}

// OnlineSince reports whether a device seen at lastSeen counts as online.
func OnlineSince(lastSeen, now time.Time, window time.Duration) bool {
	return !lastSeen.IsZero() && now.Sub(lastSeen) <= window
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
