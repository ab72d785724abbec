package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/NASA-0007/Rosaiq-Trial/internal/ingest"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"

	"github.com/go-chi/chi/v5"
)

// Device firmware only looks at status codes, so machine errors carry a bare
// status text body.
func machineFail(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	if ae.Code >= http.StatusInternalServerError {
		slog.Error("device request failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, http.StatusText(ae.Code), ae.Code)
}

func (s *Server) handleMeasures(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	var sample ingest.Sample
	// Devices add fields between firmware releases; unknown keys are ignored.
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	m, err := s.Ingestor.Record(r.Context(), deviceID, sample, "http")
	if err != nil {
		machineFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Data received successfully",
		"timestamp": m.Timestamp,
	})
}

func (s *Server) handleDeviceConfigFetch(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if _, err := s.Ingestor.Identify(r.Context(), deviceID); err != nil {
		machineFail(w, r, err)
		return
	}
	cfg, err := s.Repo.GetConfig(r.Context(), deviceID)
	if err != nil {
		machineFail(w, r, err)
		return
	}
	slog.Debug("config sent", "device_id", deviceID)
	writeJSON(w, http.StatusOK, cfg)
}

type bootstrapDoc struct {
	HTTPDomain     string `json:"httpDomain"`
	BaseURL        string `json:"baseUrl"`
	MeasuresPath   string `json:"measuresPath"`
	ConfigPath     string `json:"configPath"`
	FirmwarePath   string `json:"firmwarePath"`
	APIKeyRequired bool   `json:"apiKeyRequired"`
}

// handleBootstrap tells a freshly flashed device where the server lives.
// PUT is accepted for devices that post their local settings here; the body
// is discarded and the answer is the same document.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
	}
	base := s.baseURL(r)
	host := base
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	writeJSON(w, http.StatusOK, bootstrapDoc{
		HTTPDomain:     host,
		BaseURL:        base,
		MeasuresPath:   "/sensors/{deviceId}/measures",
		ConfigPath:     "/sensors/{deviceId}/one/config",
		FirmwarePath:   "/sensors/{deviceId}/generic/os/firmware.bin",
		APIKeyRequired: s.opts.EnableAPIKey,
	})
}

// baseURL prefers the configured public URL, then what the proxy reports.
func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = strings.ToLower(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}
	return scheme + "://" + host
}
