package services

import (
	"github.com/geotrack/tracker/internal/models"
)

// ApplyLocationUpdate folds a location event into a device record. It is
// pure: the input record is never mutated, and the same inputs always
// yield the same output. Callers resolve the record by deviceId first;
// an event for an unregistered device never reaches this function with a
// record, so a nil record is rejected rather than creating one.
func ApplyLocationUpdate(rec *models.DeviceRecord, ev models.LocationUpdate) (*models.DeviceRecord, error) {
	if rec == nil {
		return nil, models.ErrUnknownDevice
	}

	coords, err := ev.Location.Normalize()
	if err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.Coordinates = coords
	next.AppendTrail(models.TrailPoint{
		Lat:       coords.Lat,
		Lng:       coords.Lng,
		Timestamp: ev.UpdatedAt,
	})

	// A non-empty name wins; a partial update never regresses to "Unknown"
	if ev.LocationName != "" {
		next.LocationName = ev.LocationName
	}

	// Server timestamp is trusted verbatim, no clock skew correction.
	// Receipt of the event is itself evidence of liveness: StatusAt
	// compares this against any explicit offline signal.
	next.LastUpdate = ev.UpdatedAt

	return next, nil
}
