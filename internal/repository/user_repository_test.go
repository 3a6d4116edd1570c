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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userCols = []string{"id", "full_name", "email", "role", "department", "year", "active", "updated_at"}

func TestUserFindByIDCanonicalizes(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, full_name, email, role, department, year, active, updated_at FROM users WHERE id = $1 LIMIT 1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("stu-1", "Asha", "asha@example.edu", "student", "cse", "3rd", true, now))

	user, err := repo.FindByID(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotNil(t, user.Department)
	require.NotNil(t, user.Year)
	assert.Equal(t, "CSE", *user.Department)
	assert.Equal(t, models.YearThird, *user.Year)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE id").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestUserListByDepartment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userCols).
		AddRow("fac-1", "Dr. Rao", "rao@example.edu", "faculty", "CSE", "2", true, now).
		AddRow("stu-2", "Ben", "ben@example.edu", "student", "CSE", nil, true, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE UPPER(TRIM(department)) = $1 ORDER BY id")).
		WithArgs("CSE").
		WillReturnRows(rows)

	users, err := repo.ListByDepartment(context.Background(), " cse")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Nil(t, users[0].Year, "faculty never carry a year")
	assert.Nil(t, users[1].Year)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserListAllError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users ORDER BY id").WillReturnError(errors.New("connection reset"))

	_, err := repo.ListAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list users")
}
