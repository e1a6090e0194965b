// Package store provides the persistence collaborators for the monitoring
// engine: an AlertStore and a ReadingStore, each with a PostgreSQL and an
// in-memory implementation, plus a batching writer that decouples the live
// pipeline from reading persistence.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	sensor_id    TEXT NOT NULL,
	severity     TEXT NOT NULL,
	message      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_alerts_sensor_created ON alerts (sensor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at DESC);

CREATE TABLE IF NOT EXISTS readings (
	id         BIGSERIAL PRIMARY KEY,
	sensor_id  TEXT NOT NULL,
	sensor_type TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	unit       TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	sequence   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings (sensor_id, ts DESC);
`

// NewPostgresDB creates a connection pool and ensures the schema exists.
func NewPostgresDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
