package models

import "time"

// RemoteDevice is a device record as the external tracking API returns it
type RemoteDevice struct {
	DeviceID     string          `json:"deviceId"`
	Name         string          `json:"name"`
	Type         string          `json:"type,omitempty"`
	Location     LocationPayload `json:"location"`
	LocationName string          `json:"locationName,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt,omitempty"`
}

// ToRecord converts an API device into a store record. A device with no
// usable position keeps zero coordinates; the renderer skips those.
func (r RemoteDevice) ToRecord() (*DeviceRecord, error) {
	rec, err := NewDeviceRecord(r.DeviceID, r.Name)
	if err != nil {
		return nil, err
	}
	rec.Type = r.Type
	if r.LocationName != "" {
		rec.LocationName = r.LocationName
	}
	rec.LastUpdate = r.UpdatedAt
	if coords, err := r.Location.Normalize(); err == nil {
		rec.Coordinates = coords
	}
	return rec, nil
}

// RegisterDeviceRequest is the request body for registering a device,
// manually or from a scanned QR registration code
type RegisterDeviceRequest struct {
	Name             string `json:"name"`
	Type             string `json:"type,omitempty"`
	RegistrationCode string `json:"registrationCode,omitempty"`
}

// HistoryEntry is one page item of a device's location history
type HistoryEntry struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	LocationName string    `json:"locationName,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// HistoryPage is a page of a device's location history
type HistoryPage struct {
	DeviceID   string         `json:"deviceId"`
	Entries    []HistoryEntry `json:"entries"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalCount int            `json:"totalCount"`
}

// DeviceResponse is a single device in dashboard API responses
type DeviceResponse struct {
	DeviceID     string       `json:"deviceId"`
	Name         string       `json:"name"`
	Type         string       `json:"type,omitempty"`
	Status       DeviceStatus `json:"status"`
	Coordinates  Coordinates  `json:"coordinates"`
	LocationName string       `json:"locationName"`
	LastUpdate   time.Time    `json:"lastUpdate"`
	TrailLength  int          `json:"trailLength"`
}

// ToResponse converts a record to its dashboard representation
func (d *DeviceRecord) ToResponse(now time.Time) DeviceResponse {
	return DeviceResponse{
		DeviceID:     d.DeviceID,
		Name:         d.Name,
		Type:         d.Type,
		Status:       d.StatusAt(now),
		Coordinates:  d.Coordinates,
		LocationName: d.LocationName,
		LastUpdate:   d.LastUpdate,
		TrailLength:  len(d.Trail),
	}
}

// DeviceListResponse is returned when listing devices
type DeviceListResponse struct {
	Devices    []DeviceResponse `json:"devices"`
	TotalCount int              `json:"totalCount"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is a generic error response
type ErrorResponse struct {
	Error string `json:"error"`
}
