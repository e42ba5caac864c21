package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// DeviceCacheRepository implements DeviceCacheRepo for SQLite and
// PostgreSQL. Rows preserve the store's insertion order through the
// position column.
type DeviceCacheRepository struct {
	db *sql.DB
}

// NewDeviceCacheRepository creates a new DeviceCacheRepository
func NewDeviceCacheRepository(db *sql.DB) *DeviceCacheRepository {
	return &DeviceCacheRepository{db: db}
}

// SaveAll replaces the cached device list for a user
func (r *DeviceCacheRepository) SaveAll(ctx context.Context, userID string, devices []*models.DeviceRecord) error {
	ctx, span := observability.StartDBSpan(ctx, "replace", "device_cache")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_cache WHERE user_id = $1`, userID); err != nil {
		observability.RecordError(span, err)
		return err
	}

	insert := `INSERT INTO device_cache (user_id, device_id, name, type, lat, lng, location_name, last_update, position)
			   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for i, d := range devices {
		var lastUpdate interface{}
		if !d.LastUpdate.IsZero() {
			lastUpdate = d.LastUpdate.UTC()
		}
		if _, err := tx.ExecContext(ctx, insert,
			userID, d.DeviceID, d.Name, d.Type,
			d.Coordinates.Lat, d.Coordinates.Lng,
			d.LocationName, lastUpdate, i,
		); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		observability.RecordError(span, err)
		return err
	}
	return nil
}

// GetForUser returns the cached device list in its original order
func (r *DeviceCacheRepository) GetForUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	ctx, span := observability.StartDBSpan(ctx, "select", "device_cache")
	defer span.End()

	query := `SELECT device_id, name, type, lat, lng, location_name, last_update
			  FROM device_cache WHERE user_id = $1 ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	defer rows.Close()

	var devices []*models.DeviceRecord
	for rows.Next() {
		var rec models.DeviceRecord
		var lastUpdate sql.NullTime
		if err := rows.Scan(&rec.DeviceID, &rec.Name, &rec.Type,
			&rec.Coordinates.Lat, &rec.Coordinates.Lng,
			&rec.LocationName, &lastUpdate); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		if lastUpdate.Valid {
			rec.LastUpdate = lastUpdate.Time.UTC()
		} else {
			rec.LastUpdate = time.Time{}
		}
		devices = append(devices, &rec)
	}
	return devices, rows.Err()
}

// Invalidate drops the cached list for a user; invoked on logout
func (r *DeviceCacheRepository) Invalidate(ctx context.Context, userID string) error {
	ctx, span := observability.StartDBSpan(ctx, "delete", "device_cache")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `DELETE FROM device_cache WHERE user_id = $1`, userID)
	observability.RecordError(span, err)
	return err
}
