package handlers

import (
	"net/http"

	"github.com/geotrack/tracker/internal/services"
)

// ConnectionHandler exposes push-channel health and the manual
// reconnect trigger
type ConnectionHandler struct {
	tracking *services.TrackingService
	renderer *services.MapRenderer
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(tracking *services.TrackingService, renderer *services.MapRenderer) *ConnectionHandler {
	return &ConnectionHandler{tracking: tracking, renderer: renderer}
}

// State returns the current connection state
// @Summary Push channel state
// @Tags connection
// @Produce json
// @Success 200 {object} models.ConnectionState
// @Router /api/connection [get]
func (h *ConnectionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracking.ConnectionState())
}

// Reconnect triggers a manual reconnect out of the failed state
// @Summary Reconnect the push channel
// @Tags connection
// @Success 202 "Accepted"
// @Router /api/connection/reconnect [post]
func (h *ConnectionHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.tracking.Reconnect()
	w.WriteHeader(http.StatusAccepted)
}

// Logout ends the session: push channel down, store and cache cleared
// @Summary Logout
// @Tags session
// @Success 204 "Session cleared"
// @Router /api/logout [post]
func (h *ConnectionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.tracking.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Markers returns the renderer's current marker snapshot, used by a
// freshly connected dashboard to draw the initial map
// @Summary Marker snapshot
// @Tags connection
// @Produce json
// @Success 200 {object} map[string]services.Marker
// @Router /api/markers [get]
func (h *ConnectionHandler) Markers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.renderer.Markers())
}
