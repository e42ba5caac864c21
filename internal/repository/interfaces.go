package repository

import (
	"context"

	"github.com/geotrack/tracker/internal/models"
)

// DeviceCacheRepo persists the user's device list between sessions so
// the dashboard can come up before the remote API answers. The cache is
// keyed by user id and invalidated on logout; it is the only durable
// state the tracker owns.
type DeviceCacheRepo interface {
	SaveAll(ctx context.Context, userID string, devices []*models.DeviceRecord) error
	GetForUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error)
	Invalidate(ctx context.Context, userID string) error
}
