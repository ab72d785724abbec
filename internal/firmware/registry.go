package firmware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
)

type Publisher interface {
	Publish(ev *store.Event)
}

// Registry is the firmware catalog: rows in the store, images on disk.
type Registry struct {
	Repo    *store.Repo
	Storage *Storage
	Events  Publisher
}

type Upload struct {
	Version    string
	Filename   string // name of the uploaded file, only its extension is checked
	Notes      string
	UploadedBy string
	Body       io.Reader
}

func (r *Registry) Add(ctx context.Context, up Upload) (*store.Firmware, error) {
	version := strings.TrimSpace(up.Version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", apperr.ErrValidation)
	}
	if !strings.EqualFold(filepath.Ext(up.Filename), ".bin") {
		return nil, fmt.Errorf("%w: only .bin firmware images are accepted", apperr.ErrValidation)
	}
	if existing, err := r.Repo.FirmwareByVersion(ctx, version); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, store.ErrDuplicateVersion
	}

	blob, err := r.Storage.Save(version, up.Body)
	if err != nil {
		return nil, err
	}
	fw := &store.Firmware{
		Version:    version,
		Filename:   blob.Filename,
		Path:       blob.Path,
		Size:       blob.Size,
		Checksum:   blob.Checksum,
		UploadedBy: up.UploadedBy,
		Notes:      strings.TrimSpace(up.Notes),
	}
	if err := r.Repo.AddFirmware(ctx, fw); err != nil {
		if rmErr := r.Storage.Remove(blob.Path); rmErr != nil {
			slog.Error("firmware cleanup after failed add", "path", blob.Path, "error", rmErr)
		}
		return nil, err
	}
	slog.Info("firmware uploaded", "version", fw.Version, "size", fw.Size, "by", fw.UploadedBy)
	r.audit(ctx, store.EventFirmwareUploaded, fw)
	return fw, nil
}

func (r *Registry) Latest(ctx context.Context) (*store.Firmware, error) {
	return r.Repo.LatestFirmware(ctx)
}

func (r *Registry) ByVersion(ctx context.Context, version string) (*store.Firmware, error) {
	return r.Repo.FirmwareByVersion(ctx, version)
}

// Open returns the stored image of fw.
func (r *Registry) Open(fw *store.Firmware) (*os.File, error) {
	return r.Storage.Open(fw.Path)
}

func (r *Registry) List(ctx context.Context) ([]store.Firmware, error) {
	return r.Repo.ListFirmware(ctx)
}

// Remove drops the catalog row first; a missing image file is not an error.
func (r *Registry) Remove(ctx context.Context, id uint) error {
	fw, err := r.Repo.DeleteFirmware(ctx, id)
	if err != nil {
		return err
	}
	if err := r.Storage.Remove(fw.Path); err != nil {
		slog.Warn("firmware file removal failed", "version", fw.Version, "path", fw.Path, "error", err)
	}
	r.audit(ctx, store.EventFirmwareDeleted, fw)
	return nil
}

func (r *Registry) audit(ctx context.Context, eventType string, fw *store.Firmware) {
	ev, err := r.Repo.RecordEvent(ctx, "", eventType, map[string]any{
		"version":     fw.Version,
		"size":        fw.Size,
		"uploaded_by": fw.UploadedBy,
	})
	if err != nil {
		slog.Warn("firmware event append failed", "version", fw.Version, "error", err)
		return
	}
	if r.Events != nil {
		r.Events.Publish(ev)
	}
}
