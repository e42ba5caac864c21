package services

import (
	"sync"
	"time"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// FitPadding is the fraction of the bounding box added around the
// markers when the viewport is recomputed.
const FitPadding = 0.1

// Marker is the visual state of one device on the map surface
type Marker struct {
	Coordinates models.Coordinates  `json:"coordinates"`
	Status      models.DeviceStatus `json:"status"`
	Label       string              `json:"label"`
	Popup       string              `json:"popup,omitempty"`
}

// Bounds is a lat/lng bounding box
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// Extend grows the bounds to include a point
func (b *Bounds) Extend(c models.Coordinates) {
	if c.Lat < b.MinLat {
		b.MinLat = c.Lat
	}
	if c.Lat > b.MaxLat {
		b.MaxLat = c.Lat
	}
	if c.Lng < b.MinLng {
		b.MinLng = c.Lng
	}
	if c.Lng > b.MaxLng {
		b.MaxLng = c.Lng
	}
}

// MapSurface is the drawing target the renderer drives. The production
// surface streams these operations to dashboard clients; tests use a
// recording fake.
type MapSurface interface {
	Init() error
	AddMarker(deviceID string, m Marker)
	UpdateMarker(deviceID string, m Marker)
	RemoveMarker(deviceID string)
	SetTrail(deviceID string, points []models.TrailPoint)
	ClearTrail(deviceID string)
	FitBounds(b Bounds, padding float64)
}

// MapRenderer keeps a 1:1 correspondence between devices with a usable
// position and markers on the surface. Existing markers are updated in
// place, never destroyed and recreated. Once surface initialization
// fails the renderer stays in an error state until Init is called again
// explicitly.
type MapRenderer struct {
	surface    MapSurface
	log        *observability.Logger
	showTrails bool
	onSelect   func(deviceID string)
	now        func() time.Time

	mu      sync.Mutex
	ready   bool
	markers map[string]Marker
	trails  map[string]int // deviceID → trail length last drawn
}

// RendererOption configures a MapRenderer
type RendererOption func(*MapRenderer)

// WithTrails toggles trail polylines
func WithTrails(enabled bool) RendererOption {
	return func(r *MapRenderer) { r.showTrails = enabled }
}

// WithSelectCallback sets the device click callback. The renderer only
// notifies; it never mutates its own state on selection.
func WithSelectCallback(fn func(deviceID string)) RendererOption {
	return func(r *MapRenderer) { r.onSelect = fn }
}

// withClock overrides the status clock, for tests
func withClock(now func() time.Time) RendererOption {
	return func(r *MapRenderer) { r.now = now }
}

// NewMapRenderer creates a renderer over the given surface
func NewMapRenderer(surface MapSurface, opts ...RendererOption) *MapRenderer {
	r := &MapRenderer{
		surface: surface,
		log:     observability.WithField("component", "renderer"),
		now:     time.Now,
		markers: make(map[string]Marker),
		trails:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init prepares the surface. On failure the renderer refuses all marker
// operations; there is no automatic retry.
func (r *MapRenderer) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.surface.Init(); err != nil {
		r.ready = false
		r.log.Errorf("map surface init failed: %v", err)
		return err
	}
	r.ready = true
	return nil
}

// Ready reports whether the surface initialized successfully
func (r *MapRenderer) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Render diffs the device list against the current marker set: markers
// for gone devices are removed, new devices get fresh markers, existing
// markers are updated in place. Devices without a usable position are
// skipped.
func (r *MapRenderer) Render(devices []*models.DeviceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return
	}

	now := r.now()
	seen := make(map[string]struct{}, len(devices))
	positionsChanged := false

	for _, d := range devices {
		if d.Coordinates.IsZero() || !d.Coordinates.Valid() {
			continue
		}
		seen[d.DeviceID] = struct{}{}

		marker := Marker{
			Coordinates: d.Coordinates,
			Status:      d.StatusAt(now),
			Label:       d.Name,
			Popup:       d.LocationName,
		}

		prev, exists := r.markers[d.DeviceID]
		switch {
		case !exists:
			r.surface.AddMarker(d.DeviceID, marker)
			r.markers[d.DeviceID] = marker
			positionsChanged = true
		case prev != marker:
			r.surface.UpdateMarker(d.DeviceID, marker)
			r.markers[d.DeviceID] = marker
			if prev.Coordinates != marker.Coordinates {
				positionsChanged = true
			}
		}

		r.renderTrailLocked(d, prev.Coordinates != marker.Coordinates || !exists)
	}

	for id := range r.markers {
		if _, ok := seen[id]; !ok {
			r.surface.RemoveMarker(id)
			delete(r.markers, id)
			if r.trails[id] > 0 {
				r.surface.ClearTrail(id)
			}
			delete(r.trails, id)
		}
	}

	// Never recompute the viewport over an empty marker set: the
	// resulting bounds would be invalid
	if positionsChanged && len(r.markers) > 0 {
		r.surface.FitBounds(r.boundsLocked(), FitPadding)
	}
}

// renderTrailLocked replaces the whole polyline; trails are never
// patched incrementally
func (r *MapRenderer) renderTrailLocked(d *models.DeviceRecord, moved bool) {
	if !r.showTrails || len(d.Trail) < 2 {
		return
	}
	if !moved && r.trails[d.DeviceID] == len(d.Trail) {
		return
	}
	if r.trails[d.DeviceID] > 0 {
		r.surface.ClearTrail(d.DeviceID)
	}
	r.surface.SetTrail(d.DeviceID, d.Trail)
	r.trails[d.DeviceID] = len(d.Trail)
}

func (r *MapRenderer) boundsLocked() Bounds {
	var b Bounds
	first := true
	for _, m := range r.markers {
		if first {
			b = Bounds{
				MinLat: m.Coordinates.Lat, MaxLat: m.Coordinates.Lat,
				MinLng: m.Coordinates.Lng, MaxLng: m.Coordinates.Lng,
			}
			first = false
			continue
		}
		b.Extend(m.Coordinates)
	}
	return b
}

// Select forwards a device click to the external callback
func (r *MapRenderer) Select(deviceID string) {
	if r.onSelect != nil {
		r.onSelect(deviceID)
	}
}

// Markers returns a snapshot of the current marker set
func (r *MapRenderer) Markers() map[string]Marker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Marker, len(r.markers))
	for id, m := range r.markers {
		out[id] = m
	}
	return out
}
