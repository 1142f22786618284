package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/utilities"
)

const (
	KindThumbnail = "thumbnails"
	KindPDF       = "pdfs"
)

// thumbnailTypes maps accepted image types to the stored file extension.
var thumbnailTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Store is the persistence the catalog needs. *repo.BookRepo implements it.
type Store interface {
	Create(ctx context.Context, b *entity.Book) error
	Get(ctx context.Context, id string) (*entity.Book, error)
	List(ctx context.Context, limit, offset int) ([]entity.Book, error)
	Update(ctx context.Context, b *entity.Book) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
}

// Upload is one file received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Input carries catalog fields. Nil pointers mean "leave unchanged" on update.
type Input struct {
	Title       *string
	Description *string
	Price       *int64
	Thumbnail   *Upload
	PDF         *Upload
}

var ErrNotFound = errors.New("book not found")

// Service is the catalog store plus upload handling.
type Service struct {
	store  Store
	blobs  storage.Backend
	logger *zap.SugaredLogger
}

func NewService(store Store, blobs storage.Backend, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, blobs: blobs, logger: logger}
}

// Get returns a book or a NotFound error.
func (s *Service) Get(ctx context.Context, id string) (*entity.Book, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "Book not found", ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]entity.Book, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// Create validates in, stores both files and inserts the row. Uploaded files
// are removed again when the insert fails.
func (s *Service) Create(ctx context.Context, in Input) (*entity.Book, error) {
	if in.Title == nil || in.Description == nil || in.Price == nil {
		return nil, apperr.New(apperr.Validation, "title, description and price are required")
	}
	if in.Thumbnail == nil || in.PDF == nil {
		return nil, apperr.New(apperr.Validation, "thumbnail and pdf files are required")
	}
	b := &entity.Book{ID: utilities.NewSnowflakeID()}
	if err := applyFields(b, in); err != nil {
		return nil, err
	}
	thumb, pdf, err := s.storeFiles(ctx, b.ID, in)
	if err != nil {
		return nil, err
	}
	b.ThumbnailRef, b.ContentRef = thumb, pdf
	if err := s.store.Create(ctx, b); err != nil {
		s.discard(ctx, thumb, pdf)
		return nil, err
	}
	s.logger.Infow("book created", "book_id", b.ID, "price", b.Price)
	return b, nil
}

// Update applies a partial change. Replaced files are deleted after the row
// is written.
func (s *Service) Update(ctx context.Context, id string, in Input) (*entity.Book, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyFields(b, in); err != nil {
		return nil, err
	}
	thumb, pdf, err := s.storeFiles(ctx, b.ID, in)
	if err != nil {
		return nil, err
	}
	oldThumb, oldPDF := b.ThumbnailRef, b.ContentRef
	if thumb != "" {
		b.ThumbnailRef = thumb
	}
	if pdf != "" {
		b.ContentRef = pdf
	}
	n, err := s.store.Update(ctx, b)
	if err != nil {
		s.discard(ctx, thumb, pdf)
		return nil, err
	}
	if n == 0 {
		s.discard(ctx, thumb, pdf)
		return nil, apperr.Wrap(apperr.NotFound, "Book not found", ErrNotFound)
	}
	if thumb != "" && thumb != oldThumb {
		s.discard(ctx, oldThumb)
	}
	if pdf != "" && pdf != oldPDF {
		s.discard(ctx, oldPDF)
	}
	return b, nil
}

// Delete removes the catalog row and its files. Orders and grants that name
// the book are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrap(apperr.NotFound, "Book not found", ErrNotFound)
	}
	s.discard(ctx, b.ThumbnailRef, b.ContentRef)
	s.logger.Infow("book deleted", "book_id", id)
	return nil
}

func applyFields(b *entity.Book, in Input) error {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" || utf8.RuneCountInString(t) > 200 {
			return apperr.New(apperr.Validation, "title must be 1-200 characters")
		}
		b.Title = t
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d == "" || utf8.RuneCountInString(d) > 5000 {
			return apperr.New(apperr.Validation, "description must be 1-5000 characters")
		}
		b.Description = d
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return apperr.New(apperr.Validation, "price must be a non-negative integer")
		}
		b.Price = *in.Price
	}
	return nil
}

func (s *Service) storeFiles(ctx context.Context, bookID string, in Input) (thumb, pdf string, err error) {
	if in.Thumbnail != nil {
		ext, ok := thumbnailTypes[strings.ToLower(in.Thumbnail.ContentType)]
		if !ok {
			return "", "", apperr.New(apperr.Validation, "thumbnail must be a jpg, png or webp image")
		}
		thumb, err = s.blobs.Put(ctx, KindThumbnail, fileName(bookID, ext), in.Thumbnail.ContentType, in.Thumbnail.Body)
		if err != nil {
			return "", "", fmt.Errorf("store thumbnail: %w", err)
		}
	}
	if in.PDF != nil {
		if strings.ToLower(in.PDF.ContentType) != "application/pdf" {
			s.discard(ctx, thumb)
			return "", "", apperr.New(apperr.Validation, "pdf must be an application/pdf file")
		}
		pdf, err = s.blobs.Put(ctx, KindPDF, fileName(bookID, ".pdf"), "application/pdf", in.PDF.Body)
		if err != nil {
			s.discard(ctx, thumb)
			return "", "", fmt.Errorf("store pdf: %w", err)
		}
	}
	return thumb, pdf, nil
}

func (s *Service) discard(ctx context.Context, refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warnw("remove stored file failed", "ref", ref, "err", err)
		}
	}
}

func fileName(bookID, ext string) string {
	return bookID + "-" + utilities.NewUUID() + ext
}
