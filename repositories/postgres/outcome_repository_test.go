package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

func TestOutcomeRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutcomeRepository(db, zap.NewNop())
	outcome := models.NewProviderOutcome("openai", true, 250*time.Millisecond)

	t.Run("inserts row", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO provider_outcomes").
			WithArgs(outcome.ID, "openai", true, int64(250), outcome.RecordedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Create(context.Background(), outcome))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO provider_outcomes").
			WillReturnError(errors.New("connection reset"))

		err := repo.Create(context.Background(), outcome)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert provider outcome")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutcomeRepository_CreateBatch(t *testing.T) {
	outcomes := []*models.ProviderOutcome{
		models.NewProviderOutcome("a", true, time.Millisecond),
		models.NewProviderOutcome("b", false, 2*time.Millisecond),
	}

	t.Run("commits", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOutcomeRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO provider_outcomes").
			WithArgs(outcomes[0].ID, "a", true, int64(1), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO provider_outcomes").
			WithArgs(outcomes[1].ID, "b", false, int64(2), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.CreateBatch(context.Background(), outcomes))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOutcomeRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO provider_outcomes").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO provider_outcomes").WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()

		err := repo.CreateBatch(context.Background(), outcomes)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "constraint violation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch does nothing", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewOutcomeRepository(db, zap.NewNop())

		require.NoError(t, repo.CreateBatch(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOutcomeRepository_ListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutcomeRepository(db, zap.NewNop())

	now := time.Now().UTC()
	id1, id2 := uuid.New(), uuid.New()

	t.Run("scans rows", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "provider_id", "success", "response_time_ms", "recorded_at"}).
			AddRow(id1.String(), "openai", true, int64(120), now).
			AddRow(id2.String(), "openai", false, int64(900), now.Add(-time.Minute))
		mock.ExpectQuery("SELECT (.+) FROM provider_outcomes").
			WithArgs("openai", 10).
			WillReturnRows(rows)

		outcomes, err := repo.ListRecent(context.Background(), "openai", 10)
		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, id1, outcomes[0].ID)
		assert.True(t, outcomes[0].Success)
		assert.Equal(t, 900*time.Millisecond, outcomes[1].ResponseTime())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM provider_outcomes").
			WithArgs("openai", maxListLimit).
			WillReturnRows(sqlmock.NewRows([]string{"id", "provider_id", "success", "response_time_ms", "recorded_at"}))

		outcomes, err := repo.ListRecent(context.Background(), "openai", 0)
		require.NoError(t, err)
		assert.Empty(t, outcomes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM provider_outcomes").WillReturnError(errors.New("timeout"))

		_, err := repo.ListRecent(context.Background(), "openai", 5)
		assert.ErrorContains(t, err, "failed to list provider outcomes")
	})
}

func TestDB_HealthCheckAndSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	require.NoError(t, db.HealthCheck(context.Background()))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS provider_outcomes").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.InitSchema(context.Background()))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	assert.ErrorContains(t, db.InitSchema(context.Background()), "failed to initialize schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}
