package services

import (
	"context"
	"errors"
	"time"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// PositionFailure classifies geolocation errors
type PositionFailure string

const (
	// FailurePermissionDenied is terminal for the session; callers must
	// not retry
	FailurePermissionDenied PositionFailure = "permission_denied"
	// FailureUnavailable means no fix could be obtained; retryable
	FailureUnavailable PositionFailure = "position_unavailable"
	// FailureTimeout means the source did not answer in time; retryable
	FailureTimeout PositionFailure = "timeout"
)

// PositionError is a typed geolocation failure
type PositionError struct {
	Reason PositionFailure
	Source string
}

func (e *PositionError) Error() string {
	return "geolocation " + e.Source + ": " + string(e.Reason)
}

// FailureReason extracts the typed reason from an error, if any
func FailureReason(err error) (PositionFailure, bool) {
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

// Position is one sample of the local device's location
type Position struct {
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
	Source       string   `json:"source"` // "gps" or "network"
}

// SampleOptions mirrors the platform position request knobs
type SampleOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// PositionSource produces position fixes. The gps source is the
// platform integration; the network source trades accuracy for
// availability.
type PositionSource interface {
	Name() string
	Position(ctx context.Context, opts SampleOptions) (*Position, error)
}

// BatterySource reads the local battery level as a 0..1 fraction
type BatterySource interface {
	Level(ctx context.Context) (float64, error)
}

// GeolocationService samples the local device position with a primary
// high-accuracy source and a single network fallback.
type GeolocationService struct {
	primary  PositionSource
	fallback PositionSource
	battery  BatterySource
	log      *observability.Logger
}

// NewGeolocationService creates a sampler. fallback and battery may be
// nil.
func NewGeolocationService(primary, fallback PositionSource, battery BatterySource) *GeolocationService {
	return &GeolocationService{
		primary:  primary,
		fallback: fallback,
		battery:  battery,
		log:      observability.WithField("component", "geolocate"),
	}
}

// Sample obtains the current position. When the high-accuracy request
// fails with "position unavailable", exactly one fallback attempt is
// made with high accuracy off; permission-denied and timeout surface
// immediately. Battery level is attached best-effort and never blocks
// or fails the result.
func (s *GeolocationService) Sample(ctx context.Context, opts SampleOptions) (*Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pos, err := s.primary.Position(ctx, opts)
	if err != nil {
		reason, ok := FailureReason(err)
		if !ok || reason != FailureUnavailable || !opts.HighAccuracy || s.fallback == nil {
			return nil, err
		}

		s.log.Debugf("high-accuracy fix unavailable, falling back to %s", s.fallback.Name())
		fallbackOpts := opts
		fallbackOpts.HighAccuracy = false
		pos, err = s.fallback.Position(ctx, fallbackOpts)
		if err != nil {
			return nil, err
		}
	}

	s.attachBattery(ctx, pos)
	return pos, nil
}

func (s *GeolocationService) attachBattery(ctx context.Context, pos *Position) {
	if s.battery == nil {
		return
	}

	batteryCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	level, err := s.battery.Level(batteryCtx)
	if err != nil {
		s.log.Debugf("battery level unavailable: %v", err)
		return
	}
	pos.BatteryLevel = &level
}

// Report converts a position sample into the outbound wire payload
func (p *Position) Report(deviceID string, force bool) models.LocationReport {
	source := p.Source
	if source == "" {
		source = "gps"
	}
	return models.LocationReport{
		DeviceID:     deviceID,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Accuracy:     p.Accuracy,
		Speed:        p.Speed,
		Heading:      p.Heading,
		BatteryLevel: p.BatteryLevel,
		Source:       source,
		Force:        force,
	}
}
