package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

var userCols = []string{"id", "name", "email", "password_hash", "password_algo", "password_updated_at",
	"role", "status", "login_failed_attempts", "locked_until", "last_login_at", "version", "created_at", "updated_at"}

func newCLI(t *testing.T) (*cli, sqlmock.Sqlmock, *bytes.Buffer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	out := &bytes.Buffer{}
	c := &cli{
		logger: zap.NewNop().Sugar(),
		out:    out,
		dbCfg:  database.Config{QueryTimeout: time.Second},
		open:   func() (*sqlx.DB, error) { return sqlx.NewDb(db, "postgres"), nil },
	}
	return c, mock, out
}

func run(c *cli, args ...string) error {
	root := c.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestMakeAdmin(t *testing.T) {
	c, mock, out := newCLI(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET role='admin', version=version+1`)).
		WithArgs("root@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(3), "Root", "root@example.com", "h", "bcrypt", nil, "admin", "active", 0, nil, nil, int64(2), now, now))

	require.NoError(t, run(c, "make-admin", "  Root@Example.com "))
	assert.Equal(t, "root@example.com is now an admin\n", out.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMakeAdminUnknownEmail(t *testing.T) {
	c, mock, _ := newCLI(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET role='admin'`)).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	err := run(c, "make-admin", "ghost@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotFound))
}

func TestMakeAdminNeedsEmail(t *testing.T) {
	c, _, _ := newCLI(t)
	assert.Error(t, run(c, "make-admin"))
}

func TestReconcile(t *testing.T) {
	c, mock, out := newCLI(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_books (user_id, book_id)`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, run(c, "reconcile"))
	assert.Equal(t, "restored 3 grants\n", out.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	c, mock, out := newCLI(t)
	for i := 0; i < 4; i++ {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, run(c, "migrate"))
	assert.Contains(t, out.String(), "applied 4 migrations: 0001_users.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenFailure(t *testing.T) {
	c, _, _ := newCLI(t)
	c.open = func() (*sqlx.DB, error) { return nil, errors.New("refused") }
	err := run(c, "reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db connect")
}
