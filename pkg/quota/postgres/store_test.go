package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapforge/preview-pool/pkg/quota"
)

const pgTestUserID = "user-abc"

var quotaColumns = []string{"user_id", "limit_minutes", "used_minutes", "period_month", "updated_at"}

func TestGet_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	rows := sqlmock.NewRows(quotaColumns).AddRow(
		pgTestUserID, int64(600), int64(120), "2026-08", time.Now().UTC(),
	)
	mock.ExpectQuery("SELECT .+ FROM user_quotas").WithArgs(pgTestUserID).WillReturnRows(rows)

	q, err := store.Get(context.Background(), pgTestUserID)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, int64(600), q.LimitMinutes)
	assert.Equal(t, int64(120), q.UsedMinutes)
	assert.Equal(t, "2026-08", q.PeriodMonth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	mock.ExpectQuery("SELECT .+ FROM user_quotas").WithArgs("nonexistent").
		WillReturnRows(sqlmock.NewRows(quotaColumns))

	q, err := store.Get(context.Background(), "nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, q)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	mock.ExpectQuery("SELECT .+ FROM user_quotas").
		WillReturnError(errors.New("db unavailable"))

	q, err := store.Get(context.Background(), pgTestUserID)
	assert.Error(t, err)
	assert.Nil(t, q)
	assert.Contains(t, err.Error(), "getting quota")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	mock.ExpectExec("INSERT INTO user_quotas").
		WithArgs(pgTestUserID, int64(900), int64(0), "2026-08").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Upsert(context.Background(), &quota.UserQuota{
		UserID:       pgTestUserID,
		LimitMinutes: 900,
		PeriodMonth:  "2026-08",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUsedMinutes_ReturnsUpdatedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	rows := sqlmock.NewRows(quotaColumns).AddRow(
		pgTestUserID, int64(600), int64(45), "2026-08", time.Now().UTC(),
	)
	mock.ExpectQuery("INSERT INTO user_quotas").
		WithArgs(pgTestUserID, int64(600), int64(15), "2026-08").
		WillReturnRows(rows)

	q, err := store.AddUsedMinutes(context.Background(), pgTestUserID, 15, 600, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(45), q.UsedMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUsedMinutes_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)

	mock.ExpectQuery("INSERT INTO user_quotas").
		WillReturnError(errors.New("constraint violation"))

	q, err := store.AddUsedMinutes(context.Background(), pgTestUserID, 15, 600, "2026-08")
	assert.Nil(t, q)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "adding quota usage")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(quotaColumns).
		AddRow("user-a", int64(600), int64(10), "2026-08", now).
		AddRow("user-b", int64(300), int64(299), "2026-08", now)
	mock.ExpectQuery("SELECT .+ FROM user_quotas").WillReturnRows(rows)

	quotas, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, quotas, 2)
	assert.Equal(t, "user-a", quotas[0].UserID)
	assert.Equal(t, int64(299), quotas[1].UsedMinutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInterfaceCompliance(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var _ quota.Store = New(db)
}
