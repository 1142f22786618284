// Package content serves purchased PDFs to entitled callers.
package content

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	bookentity "github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
)

// Catalog resolves items, reporting unknown ids as apperr.NotFound.
type Catalog interface {
	Get(ctx context.Context, id string) (*bookentity.Book, error)
}

// Gate checks the ReadContent capability before handing out a PDF.
type Gate struct {
	catalog Catalog
	blobs   storage.Backend
	logger  *zap.SugaredLogger
}

func NewGate(catalog Catalog, blobs storage.Backend, logger *zap.SugaredLogger) *Gate {
	return &Gate{catalog: catalog, blobs: blobs, logger: logger}
}

// Serve handles GET /items/{id}/content. Remote content is a redirect; local
// content is streamed inline or, with ?download=true, as an attachment.
func (g *Gate) Serve(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	itemID := r.PathValue("id")

	book, err := g.catalog.Get(r.Context(), itemID)
	if err != nil {
		httpx.WriteError(w, g.logger, r, err)
		return
	}
	if err := auth.Authorize(id, auth.ReadContent(book.ID)); err != nil {
		httpx.WriteError(w, g.logger, r, err)
		return
	}

	download := wantsDownload(r.URL.Query().Get("download"))
	obj, err := g.blobs.Resolve(r.Context(), book.ContentRef, download)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.logger.Warnw("content missing from storage", "book_id", book.ID)
			err = apperr.Wrap(apperr.NotFound, "PDF file not found on server", err)
		}
		httpx.WriteError(w, g.logger, r, err)
		return
	}
	if obj.RedirectURL != "" {
		http.Redirect(w, r, obj.RedirectURL, http.StatusFound)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "private, no-store")
	if download {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename(book.Title)}))
	} else {
		w.Header().Set("Content-Disposition", "inline")
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		g.logger.Debugw("content stream aborted", "book_id", book.ID, "err", err)
	}
}

func wantsDownload(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1"
}

// filename turns a title into a download file name.
func filename(title string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', '\r', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if clean == "" {
		clean = "book"
	}
	return clean + ".pdf"
}
