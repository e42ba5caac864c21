package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/tracker/internal/models"
)

func mustRecord(t *testing.T, deviceID, name string) *models.DeviceRecord {
	t.Helper()
	rec, err := models.NewDeviceRecord(deviceID, name)
	require.NoError(t, err)
	return rec
}

func TestDeviceStore_Put(t *testing.T) {
	t.Run("stores and retrieves a record", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d1", "Phone"))

		got, ok := store.Get("d1")
		require.True(t, ok)
		assert.Equal(t, "Phone", got.Name)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("replaces an existing record in place", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d1", "Phone"))
		store.Put(mustRecord(t, "d1", "Renamed"))

		got, ok := store.Get("d1")
		require.True(t, ok)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, []string{"d1"}, store.IDs())
	})

	t.Run("list preserves insertion order", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d2", "B"))
		store.Put(mustRecord(t, "d1", "A"))
		store.Put(mustRecord(t, "d3", "C"))

		var ids []string
		for _, rec := range store.List() {
			ids = append(ids, rec.DeviceID)
		}
		assert.Equal(t, []string{"d2", "d1", "d3"}, ids)
	})

	t.Run("reads return copies", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d1", "Phone"))

		got, ok := store.Get("d1")
		require.True(t, ok)
		got.Name = "mutated"

		again, ok := store.Get("d1")
		require.True(t, ok)
		assert.Equal(t, "Phone", again.Name)
	})
}

func TestDeviceStore_Upsert(t *testing.T) {
	t.Run("merges only the patched fields", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d1", "Phone"))

		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		name := "Office"
		out := store.Upsert("d1", DevicePatch{
			LocationName: &name,
			LastUpdate:   &now,
		})

		require.NotNil(t, out)
		assert.Equal(t, "Office", out.LocationName)
		assert.Equal(t, now, out.LastUpdate)
		assert.Equal(t, "Phone", out.Name)
	})

	t.Run("returns nil for an unknown device and creates nothing", func(t *testing.T) {
		store := NewDeviceStore()

		now := time.Now()
		out := store.Upsert("ghost", DevicePatch{LastUpdate: &now})

		assert.Nil(t, out)
		assert.Equal(t, 0, store.Len())
	})
}

func TestDeviceStore_Remove(t *testing.T) {
	t.Run("removes a record and its order slot", func(t *testing.T) {
		store := NewDeviceStore()
		store.Put(mustRecord(t, "d1", "A"))
		store.Put(mustRecord(t, "d2", "B"))

		assert.True(t, store.Remove("d1"))
		assert.Equal(t, []string{"d2"}, store.IDs())
		_, ok := store.Get("d1")
		assert.False(t, ok)
	})

	t.Run("reports false for an unknown device", func(t *testing.T) {
		store := NewDeviceStore()
		assert.False(t, store.Remove("ghost"))
	})
}

func TestDeviceStore_Clear(t *testing.T) {
	store := NewDeviceStore()
	store.Put(mustRecord(t, "d1", "A"))
	store.Put(mustRecord(t, "d2", "B"))

	store.Clear()

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.IDs())
}

func TestDeviceStore_Subscribe(t *testing.T) {
	t.Run("notifies listeners for every mutation", func(t *testing.T) {
		store := NewDeviceStore()
		var changes []StoreChange
		unsubscribe := store.Subscribe(func(c StoreChange) {
			changes = append(changes, c)
		})
		defer unsubscribe()

		store.Put(mustRecord(t, "d1", "A"))
		name := "Home"
		store.Upsert("d1", DevicePatch{LocationName: &name})
		store.Remove("d1")
		store.Clear()

		require.Len(t, changes, 4)
		assert.Equal(t, ChangePut, changes[0].Type)
		require.NotNil(t, changes[0].Record)
		assert.Equal(t, "d1", changes[0].Record.DeviceID)
		assert.Equal(t, ChangeUpdate, changes[1].Type)
		assert.Equal(t, ChangeRemove, changes[2].Type)
		assert.Nil(t, changes[2].Record)
		assert.Equal(t, ChangeClear, changes[3].Type)
	})

	t.Run("unsubscribe stops notifications", func(t *testing.T) {
		store := NewDeviceStore()
		calls := 0
		unsubscribe := store.Subscribe(func(StoreChange) { calls++ })

		store.Put(mustRecord(t, "d1", "A"))
		unsubscribe()
		store.Put(mustRecord(t, "d2", "B"))

		assert.Equal(t, 1, calls)
	})
}
