package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, zerolog.Nop()), mock
}

func TestRunMigrations_Bundled(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS observations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS alerts_log").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.RunMigrations(context.Background(), Migrations))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_OrderAndFailure(t *testing.T) {
	db, mock := newMock(t)
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2")},
		"001_a.sql":  {Data: []byte("SELECT 1")},
		"README.txt": {Data: []byte("ignored")},
	}

	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT 2").WillReturnError(errors.New("syntax error"))

	err := db.RunMigrations(context.Background(), fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_b.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertObservations(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []*Observation{
		{Table: "water", ID: "a", ObservedAt: now, Fields: `{"usage_liters":"10"}`, EventID: "e1", RecordedAt: now},
		{Table: "water", ID: "b", ObservedAt: now, Fields: `{"usage_liters":"20"}`, EventID: "e2", RecordedAt: now},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO observations")
	prep.ExpectExec().WithArgs("water", "a", now, `{"usage_liters":"10"}`, "e1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("water", "b", now, `{"usage_liters":"20"}`, "e2", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.UpsertObservations(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertObservations_RollsBack(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO observations")
	prep.ExpectExec().WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := db.UpsertObservations(context.Background(), []*Observation{{Table: "water", ID: "a", ObservedAt: now, RecordedAt: now}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertObservations_Empty(t *testing.T) {
	db, mock := newMock(t)
	require.NoError(t, db.UpsertObservations(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAlertLog(t *testing.T) {
	db, mock := newMock(t)
	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	limit := 1350.0
	alert := &AlertLog{
		Type:      "QUOTA_WARNING",
		Scope:     "quota",
		Subject:   "home",
		Value:     1400,
		Threshold: &limit,
		StartTime: start,
		Status:    AlertStatusActive,
	}

	mock.ExpectQuery("INSERT INTO alerts_log").
		WithArgs("QUOTA_WARNING", "quota", "home", nil, 1400.0, 1350.0, "{}", start, AlertStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"alert_id"}).AddRow(int64(7)))

	require.NoError(t, db.InsertAlertLog(context.Background(), alert))
	assert.Equal(t, int64(7), alert.AlertID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertLogCleared(t *testing.T) {
	db, mock := newMock(t)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE alerts_log").
		WithArgs(AlertStatusCleared, end, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.UpdateAlertLogCleared(context.Background(), 7, end))
	assert.NoError(t, mock.ExpectationsWereMet())
}
