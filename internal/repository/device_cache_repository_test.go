package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/tracker/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func cacheRecord(deviceID, name string, lat, lng float64) *models.DeviceRecord {
	return &models.DeviceRecord{
		DeviceID:     deviceID,
		Name:         name,
		Coordinates:  models.Coordinates{Lat: lat, Lng: lng},
		LocationName: "Unknown",
	}
}

func TestDeviceCacheRepository_SaveAll(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips the device list in order", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))
		at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

		first := cacheRecord("d2", "Tablet", 40.75, -73.99)
		first.Type = "tablet"
		first.LocationName = "Home"
		first.LastUpdate = at
		second := cacheRecord("d1", "Phone", 0, 0)

		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{first, second}))

		got, err := repo.GetForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "d2", got[0].DeviceID)
		assert.Equal(t, "Tablet", got[0].Name)
		assert.Equal(t, "tablet", got[0].Type)
		assert.Equal(t, models.Coordinates{Lat: 40.75, Lng: -73.99}, got[0].Coordinates)
		assert.Equal(t, "Home", got[0].LocationName)
		assert.Equal(t, at, got[0].LastUpdate)

		assert.Equal(t, "d1", got[1].DeviceID)
		assert.True(t, got[1].LastUpdate.IsZero())
	})

	t.Run("replaces the previous list", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))

		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{
			cacheRecord("old", "Old", 1, 1),
		}))
		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{
			cacheRecord("new", "New", 2, 2),
		}))

		got, err := repo.GetForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].DeviceID)
	})

	t.Run("keeps users isolated", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))

		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{cacheRecord("d1", "A", 1, 1)}))
		require.NoError(t, repo.SaveAll(ctx, "u2", []*models.DeviceRecord{cacheRecord("d2", "B", 2, 2)}))

		got, err := repo.GetForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "d1", got[0].DeviceID)
	})

	t.Run("saving an empty list clears the cache", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))

		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{cacheRecord("d1", "A", 1, 1)}))
		require.NoError(t, repo.SaveAll(ctx, "u1", nil))

		got, err := repo.GetForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDeviceCacheRepository_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("drops only the given user's cache", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))

		require.NoError(t, repo.SaveAll(ctx, "u1", []*models.DeviceRecord{cacheRecord("d1", "A", 1, 1)}))
		require.NoError(t, repo.SaveAll(ctx, "u2", []*models.DeviceRecord{cacheRecord("d2", "B", 2, 2)}))

		require.NoError(t, repo.Invalidate(ctx, "u1"))

		gone, err := repo.GetForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, gone)

		kept, err := repo.GetForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Len(t, kept, 1)
	})

	t.Run("is a no-op for an unknown user", func(t *testing.T) {
		repo := NewDeviceCacheRepository(newTestDB(t))
		assert.NoError(t, repo.Invalidate(ctx, "ghost"))
	})
}
