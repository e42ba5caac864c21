package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// StreamMessage is one frame pushed to dashboard clients
type StreamMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Stream message types consumed by the dashboard UI
const (
	StreamDeviceChange = "deviceChange"
	StreamMarkerAdd    = "markerAdd"
	StreamMarkerUpdate = "markerUpdate"
	StreamMarkerRemove = "markerRemove"
	StreamTrailSet     = "trailSet"
	StreamTrailClear   = "trailClear"
	StreamFitBounds    = "fitBounds"
	StreamConnection   = "connectionState"
)

// StreamClient is one connected dashboard browser
type StreamClient struct {
	ID       string
	Conn     *websocket.Conn
	Send     chan []byte
	hub      *StreamHub
	closedMu sync.Once
}

// StreamHub fans store changes and map operations out to dashboard
// clients. Clients that cannot keep up are dropped rather than allowed
// to block the pipeline.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*StreamClient]bool
	log     *observability.Logger
	metrics *observability.PipelineMetrics
}

// NewStreamHub creates an empty hub
func NewStreamHub(metrics *observability.PipelineMetrics) *StreamHub {
	return &StreamHub{
		clients: make(map[*StreamClient]bool),
		log:     observability.WithField("component", "stream"),
		metrics: metrics,
	}
}

// NewClient creates a client bound to this hub
func (h *StreamHub) NewClient(id string, conn *websocket.Conn) *StreamClient {
	return &StreamClient{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 256),
		hub:  h,
	}
}

// Register adds a client to the hub
func (h *StreamHub) Register(c *StreamClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	h.log.Infof("stream client connected: %s", c.ID)
	if h.metrics != nil {
		h.metrics.StreamClientConnected(1)
	}
}

// Unregister removes a client and closes its send channel
func (h *StreamHub) Unregister(c *StreamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.Send)
	}
	h.mu.Unlock()

	if ok {
		h.log.Infof("stream client disconnected: %s", c.ID)
		if h.metrics != nil {
			h.metrics.StreamClientConnected(-1)
		}
	}
}

// Broadcast sends a message to every connected client
func (h *StreamHub) Broadcast(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Errorf("marshal stream message: %v", err)
		return
	}

	h.mu.RLock()
	var slow []*StreamClient
	for c := range h.clients {
		select {
		case c.Send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warnf("dropping slow stream client: %s", c.ID)
		c.Close()
	}
}

// ClientCount returns the number of connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client; invoked on shutdown
func (h *StreamHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*StreamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Close tears the client down exactly once
func (c *StreamClient) Close() {
	c.closedMu.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps hub messages to the websocket connection
func (c *StreamClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains the connection for close detection
func (c *StreamClient) ReadPump() {
	defer c.Close()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

// StreamSurface is the production MapSurface: every marker operation is
// broadcast to the dashboard clients, which do the actual drawing.
type StreamSurface struct {
	hub *StreamHub
}

// NewStreamSurface creates a surface over the hub
func NewStreamSurface(hub *StreamHub) *StreamSurface {
	return &StreamSurface{hub: hub}
}

// Init succeeds when the hub exists; a nil hub is the unavailable
// rendering surface case
func (s *StreamSurface) Init() error {
	if s.hub == nil {
		return ServiceError{"stream hub unavailable"}
	}
	return nil
}

type markerOp struct {
	DeviceID string `json:"deviceId"`
	Marker   Marker `json:"marker"`
}

type trailOp struct {
	DeviceID string              `json:"deviceId"`
	Points   []models.TrailPoint `json:"points,omitempty"`
}

type fitOp struct {
	Bounds  Bounds  `json:"bounds"`
	Padding float64 `json:"padding"`
}

func (s *StreamSurface) AddMarker(deviceID string, m Marker) {
	s.hub.Broadcast(StreamMessage{Type: StreamMarkerAdd, Payload: markerOp{DeviceID: deviceID, Marker: m}})
}

func (s *StreamSurface) UpdateMarker(deviceID string, m Marker) {
	s.hub.Broadcast(StreamMessage{Type: StreamMarkerUpdate, Payload: markerOp{DeviceID: deviceID, Marker: m}})
}

func (s *StreamSurface) RemoveMarker(deviceID string) {
	s.hub.Broadcast(StreamMessage{Type: StreamMarkerRemove, Payload: trailOp{DeviceID: deviceID}})
}

func (s *StreamSurface) SetTrail(deviceID string, points []models.TrailPoint) {
	s.hub.Broadcast(StreamMessage{Type: StreamTrailSet, Payload: trailOp{DeviceID: deviceID, Points: points}})
}

func (s *StreamSurface) ClearTrail(deviceID string) {
	s.hub.Broadcast(StreamMessage{Type: StreamTrailClear, Payload: trailOp{DeviceID: deviceID}})
}

func (s *StreamSurface) FitBounds(b Bounds, padding float64) {
	s.hub.Broadcast(StreamMessage{Type: StreamFitBounds, Payload: fitOp{Bounds: b, Padding: padding}})
}

// ServiceError is a service-level error
type ServiceError struct {
	Message string
}

func (e ServiceError) Error() string {
	return e.Message
}
