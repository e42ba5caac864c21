package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestLocationPayload_Normalize(t *testing.T) {
	t.Run("explicit fields decode directly", func(t *testing.T) {
		c, err := LocationPayload{Latitude: ptr(40.75), Longitude: ptr(-73.99)}.Normalize()

		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 40.75, Lng: -73.99}, c)
	})

	t.Run("coordinate pair decodes as lng lat", func(t *testing.T) {
		c, err := LocationPayload{Coordinates: []float64{-73.99, 40.75}}.Normalize()

		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 40.75, Lng: -73.99}, c)
	})

	t.Run("explicit fields win when both encodings are present", func(t *testing.T) {
		c, err := LocationPayload{
			Latitude:    ptr(10),
			Longitude:   ptr(20),
			Coordinates: []float64{-73.99, 40.75},
		}.Normalize()

		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 10, Lng: 20}, c)
	})

	t.Run("falls back to the pair when explicit fields are not finite", func(t *testing.T) {
		c, err := LocationPayload{
			Latitude:    ptr(math.NaN()),
			Longitude:   ptr(20),
			Coordinates: []float64{-73.99, 40.75},
		}.Normalize()

		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 40.75, Lng: -73.99}, c)
	})

	t.Run("rejects latitude out of range", func(t *testing.T) {
		_, err := LocationPayload{Latitude: ptr(91), Longitude: ptr(0)}.Normalize()
		assert.ErrorIs(t, err, ErrInvalidLatitude)
	})

	t.Run("rejects longitude out of range", func(t *testing.T) {
		_, err := LocationPayload{Latitude: ptr(0), Longitude: ptr(-181)}.Normalize()
		assert.ErrorIs(t, err, ErrInvalidLongitude)
	})

	t.Run("rejects an empty payload", func(t *testing.T) {
		_, err := LocationPayload{}.Normalize()
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("rejects a single element pair", func(t *testing.T) {
		_, err := LocationPayload{Coordinates: []float64{-73.99}}.Normalize()
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestDecodeServerMessage(t *testing.T) {
	t.Run("decodes a location update", func(t *testing.T) {
		raw := []byte(`{"event":"locationUpdate","data":{"deviceId":"d1","location":{"coordinates":[-73.99,40.75]},"locationName":"Home","updatedAt":"2024-01-01T00:00:00Z"}}`)

		msg, err := DecodeServerMessage(raw)
		require.NoError(t, err)

		update, ok := msg.(LocationUpdate)
		require.True(t, ok)
		assert.Equal(t, "d1", update.DeviceID)
		assert.Equal(t, "Home", update.LocationName)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), update.UpdatedAt)

		c, err := update.Location.Normalize()
		require.NoError(t, err)
		assert.Equal(t, Coordinates{Lat: 40.75, Lng: -73.99}, c)
	})

	t.Run("decodes a device notification without a location", func(t *testing.T) {
		raw := []byte(`{"event":"deviceNotification","data":{"deviceId":"d1","message":"geofence exit"}}`)

		msg, err := DecodeServerMessage(raw)
		require.NoError(t, err)

		notif, ok := msg.(DeviceNotification)
		require.True(t, ok)
		assert.Equal(t, "d1", notif.DeviceID)
		assert.Nil(t, notif.Location)
	})

	t.Run("decodes tracking lifecycle events", func(t *testing.T) {
		started, err := DecodeServerMessage([]byte(`{"event":"trackingStarted","data":{"deviceId":"d1","timestamp":"2024-01-01T00:00:00Z"}}`))
		require.NoError(t, err)
		assert.IsType(t, TrackingStarted{}, started)

		stopped, err := DecodeServerMessage([]byte(`{"event":"trackingStopped","data":{"deviceId":"d1"}}`))
		require.NoError(t, err)
		assert.IsType(t, TrackingStopped{}, stopped)
	})

	t.Run("decodes an offline signal", func(t *testing.T) {
		msg, err := DecodeServerMessage([]byte(`{"event":"deviceOffline","data":{"deviceId":"d1"}}`))
		require.NoError(t, err)

		offline, ok := msg.(DeviceOffline)
		require.True(t, ok)
		assert.Equal(t, "d1", offline.DeviceID)
	})

	t.Run("decodes a pong with no data", func(t *testing.T) {
		msg, err := DecodeServerMessage([]byte(`{"event":"pong"}`))
		require.NoError(t, err)
		assert.IsType(t, Pong{}, msg)
	})

	t.Run("rejects an unknown event", func(t *testing.T) {
		_, err := DecodeServerMessage([]byte(`{"event":"selfDestruct"}`))
		assert.Error(t, err)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		_, err := DecodeServerMessage([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestEncodeClientMessage(t *testing.T) {
	t.Run("frames event and payload", func(t *testing.T) {
		data, err := EncodeClientMessage(EventWatchDevice, WatchDevice{DeviceID: "d1"})

		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"watchDevice","data":{"deviceId":"d1"}}`, string(data))
	})

	t.Run("omits data for payload-free events", func(t *testing.T) {
		data, err := EncodeClientMessage(EventPing, nil)

		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"ping"}`, string(data))
	})
}
