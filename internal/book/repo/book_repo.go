package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
)

const bookColumns = `id, title, description, price, thumbnail_ref, content_ref, created_at, updated_at`

// BookRepo is the books table accessor.
type BookRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewBookRepo(db *sqlx.DB, timeout time.Duration) *BookRepo {
	return &BookRepo{db: db, timeout: timeout}
}

func (r *BookRepo) Create(ctx context.Context, b *entity.Book) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO books (id, title, description, price, thumbnail_ref, content_ref)
		VALUES (:id, :title, :description, :price, :thumbnail_ref, :content_ref)
		RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, b)
	if err != nil {
		return apperr.FromStore("insert book", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
			return apperr.FromStore("scan book", err)
		}
	}
	return apperr.FromStore("insert book", rows.Err())
}

// Get returns the book or sql.ErrNoRows.
func (r *BookRepo) Get(ctx context.Context, id string) (*entity.Book, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	var b entity.Book
	if err := r.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id=$1`, id); err != nil {
		return nil, apperr.FromStore("get book", err)
	}
	return &b, nil
}

// List returns books newest first.
func (r *BookRepo) List(ctx context.Context, limit, offset int) ([]entity.Book, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	books := []entity.Book{}
	const q = `SELECT ` + bookColumns + ` FROM books ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &books, q, limit, offset); err != nil {
		return nil, apperr.FromStore("list books", err)
	}
	return books, nil
}

// Update writes every mutable column and reports the affected row count.
func (r *BookRepo) Update(ctx context.Context, b *entity.Book) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `UPDATE books SET title=:title, description=:description, price=:price,
		thumbnail_ref=:thumbnail_ref, content_ref=:content_ref, updated_at=NOW() WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, q, b)
	if err != nil {
		return 0, apperr.FromStore("update book", err)
	}
	return res.RowsAffected()
}

func (r *BookRepo) Delete(ctx context.Context, id string) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id=$1`, id)
	if err != nil {
		return 0, apperr.FromStore("delete book", err)
	}
	return res.RowsAffected()
}
