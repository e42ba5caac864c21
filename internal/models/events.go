package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Wire event names on the push channel
const (
	EventWatchDevice        = "watchDevice"
	EventPing               = "ping"
	EventUpdateLocation     = "updateLocation"
	EventLocationUpdate     = "locationUpdate"
	EventDeviceNotification = "deviceNotification"
	EventTrackingStarted    = "trackingStarted"
	EventTrackingStopped    = "trackingStopped"
	EventDeviceOffline      = "deviceOffline"
	EventPong               = "pong"
)

// Envelope frames every message on the push channel
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LocationPayload carries a position in either of the two wire encodings:
// explicit latitude/longitude fields, or a GeoJSON-style [lng, lat] pair.
type LocationPayload struct {
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

// Normalize resolves the two encodings into Coordinates. Explicit fields
// win when both are present and finite; otherwise the pair is decoded as
// [lng, lat]. Out-of-range or absent values are malformed.
func (p LocationPayload) Normalize() (Coordinates, error) {
	if p.Latitude != nil && p.Longitude != nil && finite(*p.Latitude) && finite(*p.Longitude) {
		return boundsCheck(Coordinates{Lat: *p.Latitude, Lng: *p.Longitude})
	}
	if len(p.Coordinates) >= 2 && finite(p.Coordinates[0]) && finite(p.Coordinates[1]) {
		return boundsCheck(Coordinates{Lat: p.Coordinates[1], Lng: p.Coordinates[0]})
	}
	return Coordinates{}, ErrMalformedEvent
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func boundsCheck(c Coordinates) (Coordinates, error) {
	if c.Lat < -90 || c.Lat > 90 {
		return Coordinates{}, ErrInvalidLatitude
	}
	if c.Lng < -180 || c.Lng > 180 {
		return Coordinates{}, ErrInvalidLongitude
	}
	return c, nil
}

// ServerMessage is the tagged union of events the server can push.
// All incoming frames are decoded into one of these variants and
// dispatched through a single handler.
type ServerMessage interface {
	EventName() string
}

// LocationUpdate is a new position for a watched device
type LocationUpdate struct {
	DeviceID     string          `json:"deviceId"`
	Location     LocationPayload `json:"location"`
	LocationName string          `json:"locationName,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (LocationUpdate) EventName() string { return EventLocationUpdate }

// DeviceNotification is an informational event that may carry a location
type DeviceNotification struct {
	DeviceID     string           `json:"deviceId"`
	Message      string           `json:"message,omitempty"`
	Location     *LocationPayload `json:"location,omitempty"`
	LocationName string           `json:"locationName,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt,omitempty"`
}

func (DeviceNotification) EventName() string { return EventDeviceNotification }

// TrackingStarted confirms the server began tracking a device
type TrackingStarted struct {
	DeviceID  string    `json:"deviceId"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (TrackingStarted) EventName() string { return EventTrackingStarted }

// TrackingStopped confirms the server stopped tracking a device
type TrackingStopped struct {
	DeviceID  string    `json:"deviceId"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (TrackingStopped) EventName() string { return EventTrackingStopped }

// DeviceOffline is an explicit offline signal for a device
type DeviceOffline struct {
	DeviceID string `json:"deviceId"`
}

func (DeviceOffline) EventName() string { return EventDeviceOffline }

// Pong answers a client ping; observability only
type Pong struct{}

func (Pong) EventName() string { return EventPong }

// DecodeServerMessage decodes a raw frame into its typed variant
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventLocationUpdate:
		var msg LocationUpdate
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return msg, nil
	case EventDeviceNotification:
		var msg DeviceNotification
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return msg, nil
	case EventTrackingStarted:
		var msg TrackingStarted
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return msg, nil
	case EventTrackingStopped:
		var msg TrackingStopped
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return msg, nil
	case EventDeviceOffline:
		var msg DeviceOffline
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return msg, nil
	case EventPong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

// EncodeClientMessage frames an outbound event for the push channel
func EncodeClientMessage(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// WatchDevice asks the server to push events for a device
type WatchDevice struct {
	DeviceID string `json:"deviceId"`
}

// LocationReport is the outbound position of the local device
type LocationReport struct {
	DeviceID     string   `json:"deviceId"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
	Source       string   `json:"source"` // "gps" or "network"
	Force        bool     `json:"force"`
}
