package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type deviceView struct {
	store.Device
	Online            bool               `json:"online"`
	LatestMeasurement *store.Measurement `json:"latestMeasurement"`
	Stats             store.DeviceStats  `json:"stats"`
}

func (s *Server) deviceView(r *http.Request, dev *store.Device) (deviceView, error) {
	latest, err := s.Repo.LatestMeasurement(r.Context(), dev.DeviceID)
	if err != nil {
		return deviceView{}, err
	}
	stats, err := s.Repo.DeviceStats(r.Context(), dev.DeviceID)
	if err != nil {
		return deviceView{}, err
	}
	return deviceView{
		Device:            *dev,
		Online:            store.OnlineSince(dev.LastSeen, s.Now(), s.opts.OnlineWindow),
		LatestMeasurement: latest,
		Stats:             stats,
	}, nil
}

// authorized resolves the {deviceId} route parameter through the access gate
// and writes the error response itself.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	dev, err := s.Gate.AuthorizeDevice(r.Context(), s.principal(r), chi.URLParam(r, "deviceId"))
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	return dev, true
}

func (s *Server) handleDevicesList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Repo.ListDevices(r.Context(), access.Scope(s.principal(r)))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for i := range devices {
		v, err := s.deviceView(r, &devices[i])
		if err != nil {
			fail(w, r, err)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevicesGet(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	v, err := s.deviceView(r, dev)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDevicesUpdate(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	var patch store.DevicePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.Repo.UpdateDevice(r.Context(), dev.DeviceID, patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Device updated successfully", "device": updated})
}

func (s *Server) handleDevicesName(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	var req struct {
		Name *string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == nil {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	updated, err := s.Repo.UpdateDevice(r.Context(), dev.DeviceID, store.DevicePatch{Name: req.Name})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDevicesDelete(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if err := s.Repo.DeleteDevice(r.Context(), deviceID); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Device deleted successfully"})
}

func (s *Server) handleDevicesClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SerialNumber string `json:"serial_number"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dev, err := s.Gate.Claim(r.Context(), s.principal(r), req.SerialNumber)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDevicesAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	dev, err := s.Gate.Assign(r.Context(), s.principal(r), chi.URLParam(r, "deviceId"), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDevicesUnassign(w http.ResponseWriter, r *http.Request) {
	dev, err := s.Gate.Unassign(r.Context(), s.principal(r), chi.URLParam(r, "deviceId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleMeasurementsList(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp")
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	rows, err := s.Repo.ListMeasurements(r.Context(), dev.DeviceID, start, end, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleEventsList(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	rows, err := s.Repo.ListEvents(r.Context(), dev.DeviceID, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	cfg, err := s.Repo.GetConfig(r.Context(), dev.DeviceID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.authorized(w, r)
	if !ok {
		return
	}
	var patch store.ConfigPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg, err := s.Repo.SetConfig(r.Context(), dev.DeviceID, patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	p := s.principal(r)
	ev, err := s.Repo.RecordEvent(r.Context(), dev.DeviceID, store.EventConfigUpdated, map[string]any{
		"fields": patch.Fields(),
		"patch":  patch,
		"by":     p.Username,
	})
	if err != nil {
		slog.Warn("config event append failed", "device_id", dev.DeviceID, "error", err)
	} else {
		s.publish(ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Configuration updated successfully", "config": cfg})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Repo.Summary(r.Context(), access.Scope(s.principal(r)), s.Now().Add(-s.opts.ActiveWindow))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// parseLimit returns 0 for an absent limit so the store applies its default.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
