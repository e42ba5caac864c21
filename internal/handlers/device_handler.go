package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/services"
)

// DeviceHandler serves device state to the dashboard
type DeviceHandler struct {
	store    *services.DeviceStore
	tracking *services.TrackingService
	api      *services.APIClient
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(store *services.DeviceStore, tracking *services.TrackingService, api *services.APIClient) *DeviceHandler {
	return &DeviceHandler{store: store, tracking: tracking, api: api}
}

// List returns all tracked devices with derived statuses
// @Summary List devices
// @Description Returns every tracked device with its last-known state
// @Tags devices
// @Produce json
// @Success 200 {object} models.DeviceListResponse
// @Router /api/devices [get]
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	records := h.store.List()

	devices := make([]models.DeviceResponse, 0, len(records))
	for _, rec := range records {
		devices = append(devices, rec.ToResponse(now))
	}

	writeJSON(w, http.StatusOK, models.DeviceListResponse{
		Devices:    devices,
		TotalCount: len(devices),
	})
}

// GetByID returns a single device including its trail
// @Summary Get device
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} models.DeviceRecord
// @Failure 404 {object} models.ErrorResponse
// @Router /api/devices/{id} [get]
func (h *DeviceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, models.ErrDeviceNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// History proxies a page of the device's location history from the
// remote service
// @Summary Device location history
// @Tags devices
// @Produce json
// @Param id path string true "Device ID"
// @Param page query int false "Page number (1-based)"
// @Param limit query int false "Page size"
// @Success 200 {object} models.HistoryPage
// @Router /api/devices/{id}/history [get]
func (h *DeviceHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.api.History(r.Context(), id, page, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "history fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Register registers a device, manually or from a QR registration code
// @Summary Register device
// @Tags devices
// @Accept json
// @Produce json
// @Param request body models.RegisterDeviceRequest true "Device registration"
// @Success 201 {object} models.DeviceRecord
// @Failure 400 {object} models.ErrorResponse
// @Router /api/devices [post]
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" && req.RegistrationCode == "" {
		writeError(w, http.StatusBadRequest, "name or registrationCode required")
		return
	}

	rec, err := h.tracking.Register(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Delete removes a device
// @Summary Delete device
// @Tags devices
// @Param id path string true "Device ID"
// @Success 204 "Deleted"
// @Router /api/devices/{id} [delete]
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.tracking.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartTracking asks the remote service to begin pushing events for a
// device and adds it to the watch set
// @Summary Start tracking a device
// @Tags devices
// @Param id path string true "Device ID"
// @Success 202 "Accepted"
// @Router /api/devices/{id}/track [post]
func (h *DeviceHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := h.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, models.ErrDeviceNotFound.Error())
		return
	}
	if err := h.tracking.StartTracking(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "start tracking failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StopTracking asks the remote service to stop pushing events and
// removes the device from the watch set
// @Summary Stop tracking a device
// @Tags devices
// @Param id path string true "Device ID"
// @Success 202 "Accepted"
// @Router /api/devices/{id}/untrack [post]
func (h *DeviceHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.tracking.StopTracking(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "stop tracking failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
