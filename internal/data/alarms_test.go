package data

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/firewatch/internal/alarms"
)

var alarmCols = []string{"id", "raised_at", "top_px", "left_px", "right_px", "bottom_px", "evidence_ref", "owner_id"}

func TestAlarmModel_InsertThenGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := AlarmModel{DB: db}

	now := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	box := alarms.BoundingBox{Top: 1, Left: 2, Right: 30, Bottom: 40}

	mock.ExpectQuery("INSERT INTO alarms").
		WithArgs(1, 2, 30, 40, "a.jpg").
		WillReturnRows(sqlmock.NewRows(alarmCols).AddRow(7, now, 1, 2, 30, 40, "a.jpg", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM alarms WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(alarmCols).AddRow(7, now, 1, 2, 30, 40, "a.jpg", 0))

	a, err := m.Insert(context.Background(), alarms.NewAlarm{Box: box, EvidenceRef: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, alarms.Unprocessed, a.Disposition().Kind)

	got, err := m.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, box, got.Box)
	assert.Equal(t, now, got.RaisedAt)
	assert.Equal(t, "a.jpg", got.EvidenceRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmModel_GetByID_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery("FROM alarms WHERE id").WillReturnError(sql.ErrNoRows)
	_, err := AlarmModel{DB: db}.GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, alarms.ErrNotFound)
}

func TestAlarmModel_UpdateOwnerIsConditional(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := AlarmModel{DB: db}

	q := regexp.QuoteMeta("UPDATE alarms SET owner_id = $1 WHERE id = $2 AND owner_id = $3")
	mock.ExpectExec(q).WithArgs(int64(5), int64(9), int64(0)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int64(6), int64(9), int64(0)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := m.UpdateOwner(context.Background(), 9, 0, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.UpdateOwner(context.Background(), 9, 0, 6)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmModel_Delete(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := AlarmModel{DB: db}

	mock.ExpectExec("DELETE FROM alarms").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM alarms").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := m.Delete(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.Delete(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlarmModel_ListByFilter(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := AlarmModel{DB: db}

	owner := int64(4)
	processed := alarms.Processed
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	q := regexp.QuoteMeta("WHERE owner_id = $1 AND owner_id <> 0 AND raised_at >= $2 AND raised_at < $3 ORDER BY raised_at DESC, id DESC")
	mock.ExpectQuery(q).WithArgs(owner, start, end).WillReturnRows(
		sqlmock.NewRows(alarmCols).
			AddRow(2, start.Add(2*time.Hour), 0, 0, 10, 10, "b.jpg", 4).
			AddRow(1, start.Add(time.Hour), 0, 0, 10, 10, "a.jpg", 4))

	out, err := m.ListByFilter(context.Background(), alarms.StoreFilter{
		OwnerID: &owner, Disposition: &processed, Start: &start, End: &end,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlarmModel_ListUnfiltered(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM alarms ORDER BY raised_at DESC")).
		WillReturnRows(sqlmock.NewRows(alarmCols))
	out, err := AlarmModel{DB: db}.ListByFilter(context.Background(), alarms.StoreFilter{})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestAlarmModel_CountInRange(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	start := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alarms WHERE raised_at >= $1 AND raised_at < $2")).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := AlarmModel{DB: db}.CountInRange(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLifecycleOverAlarmModel_ClaimLost(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	lc := alarms.NewLifecycle(AlarmModel{DB: db}, nil, nil, nil)

	mock.ExpectExec("UPDATE alarms SET owner_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM alarms WHERE id").
		WillReturnRows(sqlmock.NewRows(alarmCols).AddRow(9, time.Now(), 0, 0, 1, 1, "x.jpg", 3))

	_, err := lc.Claim(context.Background(), alarms.Principal{UserID: 5, Role: alarms.RoleAdmin}, 9)
	assert.ErrorIs(t, err, alarms.ErrAlreadyProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserModel_CreateDuplicate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "hash", alarms.RoleUser).
		WillReturnError(&pq.Error{Code: "23505"})

	err := UserModel{DB: db}.Create(context.Background(), &User{Username: "alice", PasswordHash: "hash", Role: alarms.RoleUser})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUserModel_GetByUsername(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	created := time.Now().UTC()
	mock.ExpectQuery("FROM users").WithArgs("admin").WillReturnRows(
		sqlmock.NewRows([]string{"id", "username", "password_hash", "role", "created_at"}).
			AddRow(1, "admin", "$argon2id$...", "admin", created))

	u, err := UserModel{DB: db}.GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, alarms.Principal{UserID: 1, Username: "admin", Role: alarms.RoleAdmin}, u.Principal())

	mock.ExpectQuery("FROM users").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	_, err = UserModel{DB: db}.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserModel_Delete(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec("DELETE FROM users").WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, UserModel{DB: db}.Delete(context.Background(), 8), ErrUserNotFound)
}
