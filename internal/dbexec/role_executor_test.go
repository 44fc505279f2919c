package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func roleIs(role string) func(context.Context) (string, bool) {
	return func(context.Context) (string, bool) { return role, role != "" }
}

func drain(t *testing.T, rows Rows) []string {
	t.Helper()
	var out []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		out = append(out, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	return out
}

func TestRoleExecutor_ActivatesAndResetsRole(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("SET ROLE NONE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET ROLE `app_reader`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("USE `partners`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT `ID` FROM `organizations`").
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow("1").AddRow("2"))
	mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	exec := NewRoleExecutor(RoleExecutorConfig{
		DB:           db,
		DatabaseName: "partners",
		RoleFromCtx:  roleIs("app_reader"),
		AllowedRoles: []string{"app_reader"},
		ValidateRole: true,
	})
	rows, err := exec.QueryContext(context.Background(), "SELECT `ID` FROM `organizations`")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, drain(t, rows))
	require.NoError(t, rows.Close(), "second close is harmless")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_NoRoleSkipsRoleStatements(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("USE `partners`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow("1"))

	exec := NewRoleExecutor(RoleExecutorConfig{DB: db, DatabaseName: "partners"})
	rows, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, drain(t, rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_RejectsUnlistedRole(t *testing.T) {
	db, mock := newMock(t)
	exec := NewRoleExecutor(RoleExecutorConfig{
		DB:           db,
		RoleFromCtx:  roleIs("superuser"),
		AllowedRoles: []string{"app_reader"},
		ValidateRole: true,
	})
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoleNotAllowed))
	require.NoError(t, mock.ExpectationsWereMet(), "no statement reaches the database")
}

func TestRoleExecutor_UnlistedRoleWithoutValidation(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("SET ROLE NONE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET ROLE `reporting`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow("1"))
	mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	exec := NewRoleExecutor(RoleExecutorConfig{DB: db, RoleFromCtx: roleIs("reporting")})
	rows, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	drain(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_SetRoleFailureReleasesConnection(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("SET ROLE NONE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET ROLE `app_reader`").WillReturnError(errors.New("role not granted"))
	mock.ExpectExec("SET ROLE DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	exec := NewRoleExecutor(RoleExecutorConfig{DB: db, RoleFromCtx: roleIs("app_reader")})
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set role app_reader")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_QueryFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("USE `partners`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("syntax error"))

	exec := NewRoleExecutor(RoleExecutorConfig{DB: db, DatabaseName: "partners"})
	_, err := exec.QueryContext(context.Background(), "SELECT broken")
	require.EqualError(t, err, "syntax error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStandardExecutor(t *testing.T) {
	_, err := (&StandardExecutor{}).QueryContext(context.Background(), "SELECT 1")
	assert.Equal(t, sql.ErrConnDone, err)

	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow("7"))
	rows, err := NewStandardExecutor(db).QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, drain(t, rows))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewRoleExecutor(RoleExecutorConfig{}).QueryContext(context.Background(), "SELECT 1")
	assert.Equal(t, sql.ErrConnDone, err)
}
