package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Migrations holds the bundled schema migrations
//
//go:embed migrations/*.sql
var Migrations embed.FS

// DB wraps the database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// Connect establishes a connection to the database
func Connect(connectionString string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return New(db, logger), nil
}

// New wraps an open connection
func New(db *sql.DB, logger zerolog.Logger) *DB {
	return &DB{DB: db, logger: logger.With().Str("component", "database").Logger()}
}

// RunMigrations executes all SQL files under the root of fsys in name order.
// Pass Migrations for the bundled set or os.DirFS for a directory.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(files) == 0 {
		if sub, err := fs.Sub(fsys, "migrations"); err == nil {
			if nested, _ := fs.Glob(sub, "*.sql"); len(nested) > 0 {
				fsys, files = sub, nested
			}
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		db.logger.Info().Str("migration", filename).Msg("running migration")

		content, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info().Int("count", len(files)).Msg("all migrations completed")
	return nil
}

// UpsertObservations writes a batch of mirrored rows in one transaction. A
// row already mirrored under the same table and id is replaced.
func (db *DB) UpsertObservations(ctx context.Context, rows []*Observation) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (table_name, id, observed_at, fields, event_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, id) DO UPDATE
		SET observed_at = EXCLUDED.observed_at,
		    fields = EXCLUDED.fields,
		    event_id = EXCLUDED.event_id,
		    recorded_at = EXCLUDED.recorded_at,
		    updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rows {
		if _, err := stmt.ExecContext(ctx, o.Table, o.ID, o.ObservedAt, o.Fields, o.EventID, o.RecordedAt); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", o.Table, o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountObservations returns the number of mirrored rows of a table
func (db *DB) CountObservations(ctx context.Context, table string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations WHERE table_name = $1`, table).Scan(&n)
	return n, err
}

// InsertAlertLog inserts a new alert log entry
func (db *DB) InsertAlertLog(ctx context.Context, alert *AlertLog) error {
	query := `
		INSERT INTO alerts_log (
			alert_type, scope, subject, observation_id, value,
			threshold, details, start_time, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING alert_id
	`

	details := alert.Details
	if strings.TrimSpace(details) == "" {
		details = "{}"
	}

	return db.QueryRowContext(
		ctx,
		query,
		alert.Type,
		alert.Scope,
		alert.Subject,
		alert.ObservationID,
		alert.Value,
		alert.Threshold,
		details,
		alert.StartTime,
		alert.Status,
	).Scan(&alert.AlertID)
}

// UpdateAlertLogCleared updates an alert log to cleared status
func (db *DB) UpdateAlertLogCleared(ctx context.Context, alertID int64, endTime time.Time) error {
	query := `
		UPDATE alerts_log
		SET status = $1, end_time = $2, updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $3
	`

	_, err := db.ExecContext(ctx, query, AlertStatusCleared, endTime, alertID)
	return err
}

// ActiveAlerts returns alerts that have not cleared, newest first
func (db *DB) ActiveAlerts(ctx context.Context) ([]*AlertLog, error) {
	query := `
		SELECT alert_id, alert_type, scope, subject, observation_id, value,
		       threshold, details, start_time, end_time, status, created_at, updated_at
		FROM alerts_log
		WHERE status = $1
		ORDER BY start_time DESC
	`

	rows, err := db.QueryContext(ctx, query, AlertStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*AlertLog
	for rows.Next() {
		var a AlertLog
		if err := rows.Scan(
			&a.AlertID,
			&a.Type,
			&a.Scope,
			&a.Subject,
			&a.ObservationID,
			&a.Value,
			&a.Threshold,
			&a.Details,
			&a.StartTime,
			&a.EndTime,
			&a.Status,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}
