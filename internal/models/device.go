package models

import (
	"strings"
	"time"
)

// TrailLimit is the maximum number of trail points retained per device.
const TrailLimit = 50

// StaleAfter is how long a device may go without an accepted location
// event before it is considered offline.
const StaleAfter = 60 * time.Second

// DeviceStatus is the derived online/offline state of a device
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Coordinates is a WGS84 position
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the coordinates are the unset (0,0) position
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Valid reports whether the coordinates are within WGS84 bounds
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// TrailPoint is one position in a device's movement trail
type TrailPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceRecord is the canonical last-known state of a tracked device.
// DeviceID is immutable once the record exists; everything else is
// overwritten by accepted location events.
type DeviceRecord struct {
	DeviceID     string       `json:"deviceId"`
	Name         string       `json:"name"`
	Type         string       `json:"type,omitempty"`
	Coordinates  Coordinates  `json:"coordinates"`
	LocationName string       `json:"locationName"`
	LastUpdate   time.Time    `json:"lastUpdate"`
	OfflineAt    time.Time    `json:"offlineAt,omitempty"`
	Trail        []TrailPoint `json:"trail,omitempty"`
}

// NewDeviceRecord creates a device record from a registration payload
func NewDeviceRecord(deviceID, name string) (*DeviceRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	name = strings.TrimSpace(name)

	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}
	if name == "" {
		name = deviceID
	}

	return &DeviceRecord{
		DeviceID:     deviceID,
		Name:         name,
		LocationName: "Unknown",
	}, nil
}

// StatusAt derives the online/offline status at the given instant.
// Receipt of a location event within StaleAfter means online, unless an
// explicit offline signal arrived after the last update.
func (d *DeviceRecord) StatusAt(now time.Time) DeviceStatus {
	if d.LastUpdate.IsZero() {
		return StatusOffline
	}
	if !d.OfflineAt.IsZero() && !d.OfflineAt.Before(d.LastUpdate) {
		return StatusOffline
	}
	if now.Sub(d.LastUpdate) < StaleAfter {
		return StatusOnline
	}
	return StatusOffline
}

// Clone returns a deep copy, so reducer output never aliases store state
func (d *DeviceRecord) Clone() *DeviceRecord {
	out := *d
	if d.Trail != nil {
		out.Trail = make([]TrailPoint, len(d.Trail))
		copy(out.Trail, d.Trail)
	}
	return &out
}

// AppendTrail adds a point and evicts from the front past TrailLimit
func (d *DeviceRecord) AppendTrail(p TrailPoint) {
	d.Trail = append(d.Trail, p)
	if len(d.Trail) > TrailLimit {
		d.Trail = d.Trail[len(d.Trail)-TrailLimit:]
	}
}

// Device errors
var (
	ErrEmptyDeviceID    = DeviceError{"device id cannot be empty"}
	ErrDeviceNotFound   = DeviceError{"device not found"}
	ErrUnknownDevice    = DeviceError{"location event for unregistered device"}
	ErrMalformedEvent   = DeviceError{"malformed location event"}
	ErrInvalidLatitude  = DeviceError{"latitude out of range"}
	ErrInvalidLongitude = DeviceError{"longitude out of range"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}
