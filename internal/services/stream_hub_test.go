package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/tracker/internal/models"
)

func receiveStream(t *testing.T, c *StreamClient) StreamMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg StreamMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no stream message received")
		return StreamMessage{}
	}
}

func TestStreamHub(t *testing.T) {
	t.Run("broadcasts to every registered client", func(t *testing.T) {
		hub := NewStreamHub(nil)
		a := hub.NewClient("a", nil)
		b := hub.NewClient("b", nil)
		hub.Register(a)
		hub.Register(b)
		defer hub.Unregister(a)
		defer hub.Unregister(b)

		assert.Equal(t, 2, hub.ClientCount())

		hub.Broadcast(StreamMessage{Type: StreamDeviceChange})

		assert.Equal(t, StreamDeviceChange, receiveStream(t, a).Type)
		assert.Equal(t, StreamDeviceChange, receiveStream(t, b).Type)
	})

	t.Run("unregistered clients stop receiving", func(t *testing.T) {
		hub := NewStreamHub(nil)
		c := hub.NewClient("c", nil)
		hub.Register(c)
		hub.Unregister(c)

		assert.Equal(t, 0, hub.ClientCount())
		hub.Broadcast(StreamMessage{Type: StreamDeviceChange})

		// The send channel was closed on unregister
		_, open := <-c.Send
		assert.False(t, open)
	})

	t.Run("unregister is idempotent", func(t *testing.T) {
		hub := NewStreamHub(nil)
		c := hub.NewClient("c", nil)
		hub.Register(c)
		hub.Unregister(c)
		hub.Unregister(c)
		assert.Equal(t, 0, hub.ClientCount())
	})
}

func TestStreamSurface(t *testing.T) {
	t.Run("init fails without a hub", func(t *testing.T) {
		s := NewStreamSurface(nil)
		assert.Error(t, s.Init())
	})

	t.Run("marker operations reach stream clients", func(t *testing.T) {
		hub := NewStreamHub(nil)
		c := hub.NewClient("c", nil)
		hub.Register(c)
		defer hub.Unregister(c)

		s := NewStreamSurface(hub)
		require.NoError(t, s.Init())

		s.AddMarker("d1", Marker{
			Coordinates: models.Coordinates{Lat: 40.75, Lng: -73.99},
			Status:      models.StatusOnline,
			Label:       "Phone",
		})

		msg := receiveStream(t, c)
		assert.Equal(t, StreamMarkerAdd, msg.Type)

		payload, err := json.Marshal(msg.Payload)
		require.NoError(t, err)
		var op struct {
			DeviceID string `json:"deviceId"`
			Marker   Marker `json:"marker"`
		}
		require.NoError(t, json.Unmarshal(payload, &op))
		assert.Equal(t, "d1", op.DeviceID)
		assert.Equal(t, models.StatusOnline, op.Marker.Status)
	})

	t.Run("viewport and trail operations reach stream clients", func(t *testing.T) {
		hub := NewStreamHub(nil)
		c := hub.NewClient("c", nil)
		hub.Register(c)
		defer hub.Unregister(c)

		s := NewStreamSurface(hub)
		s.SetTrail("d1", []models.TrailPoint{{Lat: 1, Lng: 2}})
		s.FitBounds(Bounds{MinLat: 1, MinLng: 2, MaxLat: 3, MaxLng: 4}, FitPadding)

		assert.Equal(t, StreamTrailSet, receiveStream(t, c).Type)
		assert.Equal(t, StreamFitBounds, receiveStream(t, c).Type)
	})
}
