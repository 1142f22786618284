package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

const userColumns = `id, name, email, password_hash, password_algo, password_updated_at,
	role, status, login_failed_attempts, locked_until, last_login_at, version, created_at, updated_at`

// UserRepo provides data access for the users and user_books tables using sqlx.
type UserRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewUserRepo(db *sqlx.DB, timeout time.Duration) *UserRepo {
	return &UserRepo{db: db, timeout: timeout}
}

// Create inserts a new user row. Role and status come from the caller, never from a request body.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO users (name, email, password_hash, password_algo, password_updated_at, role, status, version)
		VALUES (:name, :email, :password_hash, :password_algo, NOW(), :role, :status, :version)
		RETURNING id, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return 0, apperr.FromStore("insert user", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return 0, apperr.FromStore("scan user id", err)
		}
		return u.ID, nil
	}
	if err := rows.Err(); err != nil {
		return 0, apperr.FromStore("insert user", err)
	}
	return 0, errors.New("no id returned")
}

// GetByEmail returns a user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return nil, apperr.FromStore("get user by email", err)
	}
	return &u, nil
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, apperr.FromStore("get user", err)
	}
	return &u, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, apperr.FromStore("increment failed login", err)
	}
	return v, nil
}

// LockIfThreshold locks the user if attempts >= threshold and currently active.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE users SET status='locked', locked_until = NOW() + ($2 || ' minutes')::interval, updated_at=NOW()
              WHERE id=$1 AND status='active' AND login_failed_attempts >= $3 RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id, lockMinutes, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperr.FromStore("lock user", err)
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id int64) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return apperr.FromStore("reset login", err)
}

// UnlockIfExpired sets status back to active if locked_until passed.
func (r *UserRepo) UnlockIfExpired(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE users SET status='active', locked_until=NULL, login_failed_attempts=0, updated_at=NOW()
               WHERE id=$1 AND status='locked' AND locked_until IS NOT NULL AND locked_until < NOW() RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperr.FromStore("unlock user", err)
	}
	return true, nil
}

// PromoteToAdmin sets role=admin and bumps version so older tokens stop working.
func (r *UserRepo) PromoteToAdmin(ctx context.Context, email string) (*entity.User, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE users SET role='admin', version=version+1, updated_at=NOW() WHERE email=$1 RETURNING ` + userColumns
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, email); err != nil {
		return nil, apperr.FromStore("promote user", err)
	}
	return &u, nil
}

// AccessSet lists the book ids the user may read.
func (r *UserRepo) AccessSet(ctx context.Context, userID int64) ([]string, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, `SELECT book_id FROM user_books WHERE user_id=$1 ORDER BY granted_at`, userID); err != nil {
		return nil, apperr.FromStore("list access set", err)
	}
	return ids, nil
}

// GrantAccess adds bookID to the access set. It is a set union: repeating the
// call is a no-op. ext may be a transaction so the grant commits with the
// order settlement. Reports whether a new row was written.
func GrantAccess(ctx context.Context, ext sqlx.ExecerContext, userID int64, bookID string) (bool, error) {
	const q = `INSERT INTO user_books (user_id, book_id) VALUES ($1, $2) ON CONFLICT (user_id, book_id) DO NOTHING`
	res, err := ext.ExecContext(ctx, q, userID, bookID)
	if err != nil {
		return false, apperr.FromStore("grant access", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
