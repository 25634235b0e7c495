package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hwreg/internal/device"
)

// handleListDevices returns all records, optionally filtered.
//
// Query parameters (combined with AND):
//   - bus: e.g. block, usb
//   - category: e.g. volume, fixedMedia.flash
//   - capability: e.g. block, volume
//   - parent: parent record identifier
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	devices := s.registry.FindDevices(r.Context(), device.Filter{
		Bus:        q.Get("bus"),
		Category:   q.Get("category"),
		Capability: q.Get("capability"),
		ParentID:   q.Get("parent"),
	})
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	value, err := s.registry.GetProperty(r.Context(), id, key)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, device.ErrPropertyNotFound):
		writeNotFound(w, "property not found")
		return
	case err != nil:
		writeInternalError(w, "failed to get property")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "key": key, "value": value})
}
