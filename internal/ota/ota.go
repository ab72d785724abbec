package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/NASA-0007/Rosaiq-Trial/internal/observability"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/go-chi/chi/v5"
)

type Outcome int

const (
	NotAvailable Outcome = iota
	UnknownVersion
	UpToDate
	Update
)

func (o Outcome) String() string {
	switch o {
	case NotAvailable:
		return "not_available"
	case UnknownVersion:
		return "unknown_version"
	case UpToDate:
		return "up_to_date"
	case Update:
		return "update"
	default:
		return "invalid"
	}
}

// Builds reporting one of these are never offered an image.
var nonReleaseMarkers = []string{"snapshot", "development", "dev"}

func IsNonRelease(version string) bool {
	return slices.Contains(nonReleaseMarkers, strings.ToLower(strings.TrimSpace(version)))
}

type Decision struct {
	Outcome  Outcome
	Current  string
	Firmware *store.Firmware
}

// Decide compares versions as opaque strings. A device ahead of the latest
// upload is still offered the latest.
func Decide(current string, latest *store.Firmware) Decision {
	current = strings.TrimSpace(current)
	d := Decision{Current: current, Firmware: latest}
	switch {
	case latest == nil:
		d.Outcome = NotAvailable
	case IsNonRelease(current):
		d.Outcome = UnknownVersion
	case current == latest.Version:
		d.Outcome = UpToDate
	default:
		d.Outcome = Update
	}
	return d
}

type Catalog interface {
	Latest(ctx context.Context) (*store.Firmware, error)
	Open(fw *store.Firmware) (*os.File, error)
}

type Publisher interface {
	Publish(ev *store.Event)
}

type Negotiator struct {
	Catalog Catalog
	Repo    *store.Repo
	Events  Publisher
}

// ServeHTTP answers GET .../firmware.bin?current_firmware=V for the device in
// the {deviceId} route parameter. It only reads the catalog and the image.
func (n *Negotiator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := chi.URLParam(r, "deviceId")
	current := r.URL.Query().Get("current_firmware")

	latest, err := n.Catalog.Latest(ctx)
	if err != nil {
		slog.Error("ota latest lookup failed", "device_id", deviceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	d := Decide(current, latest)
	observability.OTAOutcome(d.Outcome.String())
	log := slog.With("device_id", deviceID, "current", d.Current, "outcome", d.Outcome.String())

	switch d.Outcome {
	case NotAvailable:
		log.Debug("ota no firmware available")
		http.Error(w, "No firmware available", http.StatusNotFound)
		return
	case UnknownVersion:
		log.Info("ota rejected non-release build")
		w.WriteHeader(http.StatusBadRequest)
		return
	case UpToDate:
		log.Debug("ota device up to date")
		// net/http drops bodies on 304; the text is for clients that keep it.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotModified)
		_, _ = io.WriteString(w, "Firmware is already up to date")
		return
	}

	fw := d.Firmware
	f, err := n.Catalog.Open(fw)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("ota firmware file missing", "version", fw.Version, "path", fw.Path)
			http.Error(w, "Firmware file not found", http.StatusNotFound)
			return
		}
		log.Error("ota firmware open failed", "version", fw.Version, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Error("ota firmware stat failed", "version", fw.Version, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	n.recordUpdate(ctx, deviceID, d)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fw.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if fw.Checksum != "" {
		w.Header().Set("X-Firmware-Checksum", fw.Checksum)
	}
	w.Header().Set("X-Firmware-Version", fw.Version)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		// client went away; nothing was mutated by the transfer
		log.Warn("ota transfer aborted", "version", fw.Version, "error", err)
		return
	}
	log.Info("ota image sent", "version", fw.Version, "bytes", info.Size())
}

func (n *Negotiator) recordUpdate(ctx context.Context, deviceID string, d Decision) {
	if n.Repo == nil {
		return
	}
	data := map[string]any{
		"device_id":    deviceID,
		"from_version": d.Current,
		"to_version":   d.Firmware.Version,
	}
	// Unknown devices still get the image, but the event cannot reference them.
	ref := ""
	if _, err := n.Repo.GetDevice(ctx, deviceID); err == nil {
		ref = deviceID
		if err := n.Repo.TouchDevice(ctx, deviceID); err != nil {
			slog.Warn("ota touch device failed", "device_id", deviceID, "error", err)
		}
	}
	ev, err := n.Repo.RecordEvent(ctx, ref, store.EventOTAUpdate, data)
	if err != nil {
		slog.Warn("ota event append failed", "device_id", deviceID, "error", err)
		return
	}
	if n.Events != nil {
		n.Events.Publish(ev)
	}
}
