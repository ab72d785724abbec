package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// AddFirmware records an uploaded image. Versions are unique.
func (r *Repo) AddFirmware(ctx context.Context, fw *Firmware) error {
	if existing, err := r.FirmwareByVersion(ctx, fw.Version); err != nil {
		return err
	} else if existing != nil {
		return ErrDuplicateVersion
	}
	if fw.UploadedAt.IsZero() {
		fw.UploadedAt = r.clock()
	}
	if err := r.db.WithContext(ctx).Create(fw).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateVersion
		}
		return err
	}
	return nil
}

// LatestFirmware returns the most recently uploaded image, or nil when the
// registry is empty.
func (r *Repo) LatestFirmware(ctx context.Context) (*Firmware, error) {
	var fw Firmware
	err := r.db.WithContext(ctx).Order("uploaded_at desc, id desc").Take(&fw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

// FirmwareByVersion returns nil when no image carries version.
func (r *Repo) FirmwareByVersion(ctx context.Context, version string) (*Firmware, error) {
	var fw Firmware
	err := r.db.WithContext(ctx).Take(&fw, "version = ?", version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

func (r *Repo) GetFirmware(ctx context.Context, id uint) (*Firmware, error) {
	var fw Firmware
	if err := r.db.WithContext(ctx).Take(&fw, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrFirmwareNotFound)
	}
	return &fw, nil
}

func (r *Repo) ListFirmware(ctx context.Context) ([]Firmware, error) {
	var rows []Firmware
	if err := r.db.WithContext(ctx).Order("uploaded_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteFirmware removes the record and returns it so the caller can clean up
// the image file.
func (r *Repo) DeleteFirmware(ctx context.Context, id uint) (*Firmware, error) {
	fw, err := r.GetFirmware(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Delete(&Firmware{}, id).Error; err != nil {
		return nil, err
	}
	return fw, nil
}
