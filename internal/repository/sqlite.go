package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createSQLiteTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_cache (
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL DEFAULT 0,
		lng REAL NOT NULL DEFAULT 0,
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
