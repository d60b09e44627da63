package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

type recordingObserver struct {
	labels []string
}

func (o *recordingObserver) ObserveDBQuery(label string, _ time.Duration) {
	o.labels = append(o.labels, label)
}

var userRowColumns = []string{"id", "username", "email", "full_name", "avatar", "cover_image", "password_hash", "refresh_token", "created_at", "updated_at"}

func TestFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	observer := &recordingObserver{}
	repo := NewUserRepository(db, observer)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "alice", "alice@example.com", "Alice", "http://cdn/a.png", "", "hash", "rt", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("u1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, user.RefreshToken)
	assert.Equal(t, "rt", *user.RefreshToken)
	assert.Equal(t, []string{"find_user_by_id"}, observer.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	mock.ExpectQuery("FROM users WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUsernameOrEmailNormalises(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "alice", "alice@example.com", "Alice", "a", "", "hash", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2) LIMIT 1")).
		WithArgs("alice", "").
		WillReturnRows(rows)

	user, err := repo.FindByUsernameOrEmail(context.Background(), "  Alice ", "")
	require.NoError(t, err)
	assert.Nil(t, user.RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.Create(context.Background(), &models.User{Username: "alice", Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRefreshTokenClears(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token = $2 WHERE id = $1")).
		WithArgs("u1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateRefreshToken(context.Background(), "u1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordRevokesRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, updated_at = $3, refresh_token = NULL WHERE id = $1")).
		WithArgs("u1", "new-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "new-hash", now, true))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("u1", "new-hash", now).
		WillReturnError(errors.New("store down"))
	assert.Error(t, repo.UpdatePassword(context.Background(), "u1", "new-hash", now, false))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	query := regexp.QuoteMeta("UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2")
	mock.ExpectExec(query).WithArgs("u1", "old", "new").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("u1", "old", "newer").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.RotateRefreshToken(context.Background(), "u1", "old", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RotateRefreshToken(context.Background(), "u1", "old", "newer")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountOnlyProvidedFields(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "alice", "alice@example.com", "Alice Liddell", "a", "", "hash", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET full_name = $2, updated_at = $3 WHERE id = $1 RETURNING")).
		WithArgs("u1", "Alice Liddell", sqlmock.AnyArg()).
		WillReturnRows(rows)

	name := " Alice Liddell "
	user, err := repo.UpdateAccount(context.Background(), "u1", models.AccountUpdate{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", user.FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAvatar(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db, nil)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "alice", "alice@example.com", "Alice", "http://cdn/new.png", "", "hash", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET avatar = $2, updated_at = $3 WHERE id = $1 RETURNING")).
		WithArgs("u1", "http://cdn/new.png", sqlmock.AnyArg()).
		WillReturnRows(rows)

	user, err := repo.UpdateAvatar(context.Background(), "u1", "http://cdn/new.png")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/new.png", user.Avatar)
	assert.NoError(t, mock.ExpectationsWereMet())
}
