package book

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
)

const (
	maxUpload    = 50 << 20
	maxFormValue = 8 << 20
)

// ThumbnailSource serves public thumbnail files. *storage.Disk implements it.
type ThumbnailSource interface {
	Open(kind, name string) (*storage.Object, error)
}

// Handler exposes the catalog routes.
type Handler struct {
	svc    *Service
	thumbs ThumbnailSource
	logger *zap.SugaredLogger
}

// NewHandler builds the handler. thumbs may be nil when thumbnails are served
// from a remote store.
func NewHandler(svc *Service, thumbs ThumbnailSource, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, thumbs: thumbs, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	books, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	out := make([]entity.Public, 0, len(books))
	for i := range books {
		out = append(out, books[i].Public())
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"books": out})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"book": b.Public()})
}

// Create handles the admin multipart upload: title, description, price,
// thumbnail and pdf.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := h.readForm(w, r)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	defer cleanup()
	b, err := h.svc.Create(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"book": b.Public()})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := h.readForm(w, r)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	defer cleanup()
	b, err := h.svc.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"book": b.Public()})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Book deleted"})
}

// Thumbnail streams a locally stored thumbnail. Public.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	if h.thumbs == nil {
		httpx.WriteError(w, h.logger, r, apperr.New(apperr.NotFound, "File not found"))
		return
	}
	obj, err := h.thumbs.Open(KindThumbnail, r.PathValue("name"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperr.Wrap(apperr.NotFound, "File not found", err)
		}
		httpx.WriteError(w, h.logger, r, err)
		return
	}
	defer obj.Body.Close()
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Debugw("thumbnail write aborted", "err", err)
	}
}

func (h *Handler) readForm(w http.ResponseWriter, r *http.Request) (Input, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return Input{}, noop, apperr.New(apperr.Validation, "expected multipart/form-data")
	}
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxUpload+maxFormValue)
	if err := r.ParseMultipartForm(maxFormValue); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return Input{}, noop, apperr.Wrap(apperr.Validation, "upload too large", err)
		}
		return Input{}, noop, apperr.Wrap(apperr.Validation, "invalid multipart form", err)
	}
	form := r.MultipartForm
	var in Input
	var opened []multipart.File
	cleanup := func() {
		for _, f := range opened {
			f.Close()
		}
		_ = form.RemoveAll()
	}
	if v, ok := formValue(form, "title"); ok {
		in.Title = &v
	}
	if v, ok := formValue(form, "description"); ok {
		in.Description = &v
	}
	if v, ok := formValue(form, "price"); ok {
		p, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			cleanup()
			return Input{}, noop, apperr.New(apperr.Validation, "price must be a non-negative integer")
		}
		in.Price = &p
	}
	for _, field := range []string{"thumbnail", "pdf"} {
		fhs := form.File[field]
		if len(fhs) == 0 {
			continue
		}
		fh := fhs[0]
		if fh.Size > maxUpload {
			cleanup()
			return Input{}, noop, apperr.New(apperr.Validation, field+" exceeds the 50MB limit")
		}
		f, err := fh.Open()
		if err != nil {
			cleanup()
			return Input{}, noop, apperr.Wrap(apperr.Validation, "invalid upload", err)
		}
		opened = append(opened, f)
		up := &Upload{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f}
		if field == "thumbnail" {
			in.Thumbnail = up
		} else {
			in.PDF = up
		}
	}
	return in, cleanup, nil
}

func formValue(form *multipart.Form, key string) (string, bool) {
	vs, ok := form.Value[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}
