package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts any time.Time that is in UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

func newStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(sqlSchema)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	runID := uuid.NewString()

	t.Run("should insert with a UTC timestamp", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		res := schemas.Result{
			ISBN:    "9780545139700",
			Outcome: schemas.OutcomeAdded,
			At:      time.Date(2025, 11, 20, 10, 0, 0, 0, loc),
		}
		mockPool.ExpectExec(flexibleSQLMatcher(sqlRecord)).
			WithArgs("9780545139700", "ADDED", "", runID, utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Record(ctx, runID, res))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should tolerate an identifier that is already journaled", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		s, mockPool := newStore(t, zap.New(core))

		mockPool.ExpectExec(flexibleSQLMatcher(sqlRecord)).
			WithArgs("000", "NOT_FOUND", "", runID, utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		require.NoError(t, s.Record(ctx, runID, schemas.Result{ISBN: "000", Outcome: schemas.OutcomeNotFound}))
		assert.Equal(t, 1, logs.FilterMessage("Outcome already journaled.").Len())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap database errors", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlRecord)).
			WithArgs("1", "ERROR", "boom", runID, utcTime).
			WillReturnError(dbErr)

		err := s.Record(ctx, runID, schemas.Result{ISBN: "1", Outcome: schemas.OutcomeError, Message: "boom"})
		assert.ErrorIs(t, err, dbErr)
		assert.ErrorContains(t, err, "failed to journal 1")
	})
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	runID := uuid.NewString()
	results := []schemas.Result{
		{ISBN: "1", Outcome: schemas.OutcomeAdded},
		{ISBN: "2", Outcome: schemas.OutcomeError, Message: "unknown: odd"},
	}

	t.Run("should stage, merge and commit without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newStore(t, zap.New(core))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlStaging)).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"catalog_outcomes_staging"}, outcomeColumns).
			WillReturnResult(2)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlMergeStaging)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		n, err := s.Backfill(ctx, runID, results)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "one row was already present")
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when the copy is short", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlStaging)).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"catalog_outcomes_staging"}, outcomeColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		_, err := s.Backfill(ctx, runID, results)
		assert.ErrorContains(t, err, "mismatch in copied outcomes count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should do nothing for an empty slice", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		n, err := s.Backfill(ctx, runID, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestOutcomes(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newStore(t, zap.NewNop())
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"isbn", "outcome", "message", "recorded_at"}).
		AddRow("1", "ADDED", "", at).
		AddRow("2", "ERROR", "boom", at.Add(time.Second))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlOutcomes)).
		WithArgs("").
		WillReturnRows(rows)

	got, err := s.Outcomes(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []schemas.Result{
		{ISBN: "1", Outcome: schemas.OutcomeAdded, At: at},
		{ISBN: "2", Outcome: schemas.OutcomeError, Message: "boom", At: at.Add(time.Second)},
	}, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
