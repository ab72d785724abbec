package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/NASA-0007/Rosaiq-Trial/internal/firmware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"

	"github.com/go-chi/chi/v5"
)

const multipartMemory = 8 << 20

func (s *Server) handleFirmwareList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Firmware.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleFirmwareLatest(w http.ResponseWriter, r *http.Request) {
	fw, err := s.Firmware.Latest(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if fw == nil {
		fail(w, r, store.ErrFirmwareNotFound)
		return
	}
	writeJSON(w, http.StatusOK, fw)
}

// handleFirmwareUpload takes a multipart form with fields version, notes and
// file. The registry enforces the size cap while streaming to disk.
func (s *Server) handleFirmwareUpload(w http.ResponseWriter, r *http.Request) {
	if limit := s.Firmware.Storage.MaxBytes(); limit > 0 {
		// room for the form fields and multipart framing
		r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			apperr.WriteError(w, apperr.NewAppError(http.StatusRequestEntityTooLarge, "upload too large", err).
				WithField("max_bytes", s.Firmware.Storage.MaxBytes()))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	fw, err := s.Firmware.Add(r.Context(), firmware.Upload{
		Version:    r.FormValue("version"),
		Filename:   header.Filename,
		Notes:      r.FormValue("notes"),
		UploadedBy: s.principal(r).Username,
		Body:       file,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fw)
}

func (s *Server) handleFirmwareDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "firmwareId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid firmware id")
		return
	}
	if err := s.Firmware.Remove(r.Context(), uint(id)); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
