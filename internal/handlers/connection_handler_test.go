package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/services"
)

// recordingCache tracks invalidation so logout can be asserted
type recordingCache struct {
	invalidated bool
}

func (c *recordingCache) SaveAll(ctx context.Context, userID string, records []*models.DeviceRecord) error {
	return nil
}

func (c *recordingCache) GetForUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	return nil, nil
}

func (c *recordingCache) Invalidate(ctx context.Context, userID string) error {
	c.invalidated = true
	return nil
}

func newConnectionRouter(t *testing.T) (*chi.Mux, *services.DeviceStore, *recordingCache) {
	t.Helper()

	store := services.NewDeviceStore()
	cache := &recordingCache{}
	conn := services.NewConnectionManager(services.ConnectionConfig{URL: "ws://127.0.0.1:1"}, nil)
	tracking := services.NewTrackingService(services.TrackingConfig{UserID: "u1"},
		store, conn, nil, nil, nil, cache, nil, nil, nil)

	h := NewConnectionHandler(tracking, nil)

	r := chi.NewRouter()
	r.Get("/api/connection", h.State)
	r.Post("/api/connection/reconnect", h.Reconnect)
	r.Post("/api/logout", h.Logout)
	return r, store, cache
}

func TestConnectionHandler_State(t *testing.T) {
	t.Run("reports the idle phase before any connect", func(t *testing.T) {
		router, _, _ := newConnectionRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connection", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var state models.ConnectionState
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
		assert.Equal(t, models.PhaseIdle, state.Phase)
	})
}

func TestConnectionHandler_Logout(t *testing.T) {
	t.Run("clears the session and returns no content", func(t *testing.T) {
		router, store, cache := newConnectionRouter(t)
		seedDevice(t, store, "d1")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 0, store.Len())
		assert.True(t, cache.invalidated)
	})

	t.Run("is idempotent on an empty session", func(t *testing.T) {
		router, store, _ := newConnectionRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 0, store.Len())
	})
}
