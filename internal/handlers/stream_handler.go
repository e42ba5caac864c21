package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/geotrack/tracker/internal/observability"
	"github.com/geotrack/tracker/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served same-origin in production; local dev
		// runs the UI on a different port
		return true
	},
}

// StreamHandler upgrades dashboard clients onto the stream hub
type StreamHandler struct {
	hub *services.StreamHub
	log *observability.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(hub *services.StreamHub) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		log: observability.WithField("component", "stream"),
	}
}

// HandleConnection upgrades HTTP to WebSocket and attaches the client
// to the hub until it disconnects
func (h *StreamHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("stream upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
