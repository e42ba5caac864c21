package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_cache (
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL DEFAULT 0,
		lng DOUBLE PRECISION NOT NULL DEFAULT 0,
		location_name TEXT NOT NULL DEFAULT 'Unknown',
		last_update TIMESTAMP,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, device_id)
	);

	CREATE INDEX IF NOT EXISTS idx_device_cache_user ON device_cache(user_id);
	`

	_, err := db.Exec(schema)
	return err
}
