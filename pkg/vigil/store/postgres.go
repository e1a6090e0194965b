package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

// PostgresAlertStore implements vigil.AlertStore on PostgreSQL.
type PostgresAlertStore struct {
	db *sql.DB
}

// NewPostgresAlertStore wraps an existing connection pool.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

func (s *PostgresAlertStore) Create(ctx context.Context, a vigil.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, sensor_id, severity, message, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.SensorID, string(a.Severity), a.Message, a.CreatedAt, a.Acknowledged)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresAlertStore) List(ctx context.Context, f vigil.AlertFilter) ([]vigil.Alert, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SensorID != "" {
		add("sensor_id = $%d", f.SensorID)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}

	query := "SELECT id, sensor_id, severity, message, created_at, acknowledged FROM alerts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []vigil.Alert
	for rows.Next() {
		var a vigil.Alert
		var severity string
		if err := rows.Scan(&a.ID, &a.SensorID, &severity, &a.Message, &a.CreatedAt, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = vigil.Level(severity)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresAlertStore) Acknowledge(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged = TRUE WHERE id = $1", alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n == 0 {
		return vigil.ErrAlertNotFound
	}
	return nil
}

// PostgresReadingStore implements vigil.ReadingStore on PostgreSQL, using
// COPY for batch inserts so a busy session does not turn into row-at-a-time
// round trips.
type PostgresReadingStore struct {
	db *sql.DB
}

// NewPostgresReadingStore wraps an existing connection pool.
func NewPostgresReadingStore(db *sql.DB) *PostgresReadingStore {
	return &PostgresReadingStore{db: db}
}

func (s *PostgresReadingStore) CreateBatch(ctx context.Context, readings []vigil.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("readings",
		"sensor_id", "sensor_type", "value", "unit", "ts", "sequence"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.SensorID, string(r.Type), r.Value, r.Unit, r.Timestamp, int64(r.Sequence)); err != nil {
			stmt.Close()
			return fmt.Errorf("copy reading: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresReadingStore) List(ctx context.Context, sensorID string, since, until time.Time, limit int) ([]vigil.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	if until.IsZero() {
		until = time.Now()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_id, sensor_type, value, unit, ts, sequence
		FROM readings
		WHERE sensor_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts DESC
		LIMIT $4
	`, sensorID, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []vigil.SensorReading
	for rows.Next() {
		var r vigil.SensorReading
		var sensorType string
		var seq int64
		if err := rows.Scan(&r.SensorID, &sensorType, &r.Value, &r.Unit, &r.Timestamp, &seq); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Type = vigil.SensorType(sensorType)
		r.Sequence = uint64(seq)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// IsRetryable reports whether a store error is transient enough to retry at
// the caller's discretion. Context cancellations and not-found errors are
// not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, vigil.ErrAlertNotFound) {
		return false
	}
	return true
}
