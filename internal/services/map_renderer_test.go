package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/tracker/internal/models"
)

// surfaceOp records one call against the fake surface
type surfaceOp struct {
	kind     string
	deviceID string
	marker   Marker
	trail    []models.TrailPoint
	bounds   Bounds
	padding  float64
}

type fakeSurface struct {
	initErr error
	ops     []surfaceOp
}

func (f *fakeSurface) Init() error { return f.initErr }

func (f *fakeSurface) AddMarker(deviceID string, m Marker) {
	f.ops = append(f.ops, surfaceOp{kind: "add", deviceID: deviceID, marker: m})
}

func (f *fakeSurface) UpdateMarker(deviceID string, m Marker) {
	f.ops = append(f.ops, surfaceOp{kind: "update", deviceID: deviceID, marker: m})
}

func (f *fakeSurface) RemoveMarker(deviceID string) {
	f.ops = append(f.ops, surfaceOp{kind: "remove", deviceID: deviceID})
}

func (f *fakeSurface) SetTrail(deviceID string, points []models.TrailPoint) {
	f.ops = append(f.ops, surfaceOp{kind: "setTrail", deviceID: deviceID, trail: points})
}

func (f *fakeSurface) ClearTrail(deviceID string) {
	f.ops = append(f.ops, surfaceOp{kind: "clearTrail", deviceID: deviceID})
}

func (f *fakeSurface) FitBounds(b Bounds, padding float64) {
	f.ops = append(f.ops, surfaceOp{kind: "fitBounds", bounds: b, padding: padding})
}

func (f *fakeSurface) kinds() []string {
	out := make([]string, 0, len(f.ops))
	for _, op := range f.ops {
		out = append(out, op.kind)
	}
	return out
}

func (f *fakeSurface) count(kind string) int {
	n := 0
	for _, op := range f.ops {
		if op.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeSurface) reset() { f.ops = nil }

func onlineDevice(deviceID string, lat, lng float64, now time.Time) *models.DeviceRecord {
	return &models.DeviceRecord{
		DeviceID:     deviceID,
		Name:         deviceID,
		Coordinates:  models.Coordinates{Lat: lat, Lng: lng},
		LocationName: "Somewhere",
		LastUpdate:   now,
	}
}

func newTestRenderer(t *testing.T, surface MapSurface, now time.Time, opts ...RendererOption) *MapRenderer {
	t.Helper()
	opts = append(opts, withClock(func() time.Time { return now }))
	r := NewMapRenderer(surface, opts...)
	require.NoError(t, r.Init())
	return r
}

func TestMapRenderer_Init(t *testing.T) {
	t.Run("failed init blocks rendering until retried", func(t *testing.T) {
		surface := &fakeSurface{initErr: errors.New("tiles unreachable")}
		r := NewMapRenderer(surface)

		require.Error(t, r.Init())
		assert.False(t, r.Ready())

		r.Render([]*models.DeviceRecord{onlineDevice("d1", 1, 1, time.Now())})
		assert.Empty(t, surface.ops)

		// Explicit retry after the surface recovers
		surface.initErr = nil
		require.NoError(t, r.Init())
		assert.True(t, r.Ready())

		r.Render([]*models.DeviceRecord{onlineDevice("d1", 1, 1, time.Now())})
		assert.Equal(t, 1, surface.count("add"))
	})
}

func TestMapRenderer_Render(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("adds markers for new devices and fits the viewport", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		r.Render([]*models.DeviceRecord{
			onlineDevice("d1", 40.75, -73.99, now),
			onlineDevice("d2", 40.70, -74.00, now),
		})

		assert.Equal(t, 2, surface.count("add"))
		require.Equal(t, 1, surface.count("fitBounds"))
		last := surface.ops[len(surface.ops)-1]
		assert.Equal(t, "fitBounds", last.kind)
		assert.Equal(t, Bounds{MinLat: 40.70, MinLng: -74.00, MaxLat: 40.75, MaxLng: -73.99}, last.bounds)
		assert.Equal(t, FitPadding, last.padding)
	})

	t.Run("diffs against the previous set", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		r.Render([]*models.DeviceRecord{
			onlineDevice("d1", 1, 1, now),
			onlineDevice("d2", 2, 2, now),
		})
		surface.reset()

		moved := onlineDevice("d2", 2.5, 2.5, now)
		r.Render([]*models.DeviceRecord{
			moved,
			onlineDevice("d3", 3, 3, now),
		})

		assert.Equal(t, 1, surface.count("remove"))
		assert.Equal(t, 1, surface.count("add"))
		assert.Equal(t, 1, surface.count("update"))

		markers := r.Markers()
		assert.Len(t, markers, 2)
		assert.Contains(t, markers, "d2")
		assert.Contains(t, markers, "d3")
		assert.NotContains(t, markers, "d1")
	})

	t.Run("unchanged devices produce no surface calls", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		devices := []*models.DeviceRecord{onlineDevice("d1", 1, 1, now)}
		r.Render(devices)
		surface.reset()

		r.Render(devices)
		assert.Empty(t, surface.ops)
	})

	t.Run("status change updates the marker without moving the viewport", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		stale := onlineDevice("d1", 1, 1, now.Add(-2*models.StaleAfter))
		fresh := onlineDevice("d1", 1, 1, now)

		r.Render([]*models.DeviceRecord{fresh})
		surface.reset()

		r.Render([]*models.DeviceRecord{stale})

		require.Equal(t, []string{"update"}, surface.kinds())
		assert.Equal(t, models.StatusOffline, surface.ops[0].marker.Status)
	})

	t.Run("skips devices without a usable position", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		unplaced := &models.DeviceRecord{DeviceID: "d1", Name: "d1", LastUpdate: now}
		invalid := onlineDevice("d2", 95, 0, now)

		r.Render([]*models.DeviceRecord{unplaced, invalid})

		assert.Empty(t, surface.ops)
		assert.Empty(t, r.Markers())
	})

	t.Run("never fits the viewport over an empty marker set", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		r.Render([]*models.DeviceRecord{onlineDevice("d1", 1, 1, now)})
		surface.reset()

		r.Render(nil)

		assert.Equal(t, 1, surface.count("remove"))
		assert.Equal(t, 0, surface.count("fitBounds"))
	})
}

func TestMapRenderer_Trails(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("draws the full polyline once two points exist", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now, WithTrails(true))

		d := onlineDevice("d1", 1, 1, now)
		d.Trail = []models.TrailPoint{{Lat: 0.9, Lng: 0.9}}
		r.Render([]*models.DeviceRecord{d})
		assert.Equal(t, 0, surface.count("setTrail"))
		surface.reset()

		d = onlineDevice("d1", 1.1, 1.1, now)
		d.Trail = []models.TrailPoint{{Lat: 0.9, Lng: 0.9}, {Lat: 1.1, Lng: 1.1}}
		r.Render([]*models.DeviceRecord{d})

		require.Equal(t, 1, surface.count("setTrail"))
		for _, op := range surface.ops {
			if op.kind == "setTrail" {
				assert.Len(t, op.trail, 2)
			}
		}
	})

	t.Run("replaces the previous polyline instead of patching it", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now, WithTrails(true))

		d := onlineDevice("d1", 1.1, 1.1, now)
		d.Trail = []models.TrailPoint{{Lat: 1, Lng: 1}, {Lat: 1.1, Lng: 1.1}}
		r.Render([]*models.DeviceRecord{d})
		surface.reset()

		d = onlineDevice("d1", 1.2, 1.2, now)
		d.Trail = []models.TrailPoint{{Lat: 1, Lng: 1}, {Lat: 1.1, Lng: 1.1}, {Lat: 1.2, Lng: 1.2}}
		r.Render([]*models.DeviceRecord{d})

		assert.Equal(t, 1, surface.count("clearTrail"))
		assert.Equal(t, 1, surface.count("setTrail"))
	})

	t.Run("disabled by default", func(t *testing.T) {
		surface := &fakeSurface{}
		r := newTestRenderer(t, surface, now)

		d := onlineDevice("d1", 1, 1, now)
		d.Trail = []models.TrailPoint{{Lat: 0.9, Lng: 0.9}, {Lat: 1, Lng: 1}}
		r.Render([]*models.DeviceRecord{d})

		assert.Equal(t, 0, surface.count("setTrail"))
	})
}

func TestMapRenderer_Select(t *testing.T) {
	t.Run("forwards the click and touches nothing else", func(t *testing.T) {
		surface := &fakeSurface{}
		var selected string
		r := NewMapRenderer(surface, WithSelectCallback(func(deviceID string) {
			selected = deviceID
		}))
		require.NoError(t, r.Init())

		r.Select("d1")

		assert.Equal(t, "d1", selected)
		assert.Empty(t, surface.ops)
	})

	t.Run("no callback is a no-op", func(t *testing.T) {
		r := NewMapRenderer(&fakeSurface{})
		r.Select("d1")
	})
}
