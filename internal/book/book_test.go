package book

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
)

type memStore struct {
	mu    sync.Mutex
	books map[string]entity.Book
}

func newMemStore() *memStore { return &memStore{books: map[string]entity.Book{}} }

func (m *memStore) Create(_ context.Context, b *entity.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.books[b.ID] = *b
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (m *memStore) List(_ context.Context, limit, offset int) ([]entity.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entity.Book{}
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Update(_ context.Context, b *entity.Book) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[b.ID]; !ok {
		return 0, nil
	}
	m.books[b.ID] = *b
	return 1, nil
}

func (m *memStore) Delete(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return 0, nil
	}
	delete(m.books, id)
	return 1, nil
}

func newTestService(t *testing.T) (*Service, *memStore, *storage.Disk) {
	t.Helper()
	disk, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	st := newMemStore()
	return NewService(st, disk, zap.NewNop().Sugar()), st, disk
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc, _, disk := newTestService(t)

	b, err := svc.Create(ctx, Input{
		Title:       ptr("Go in Practice"),
		Description: ptr("A book"),
		Price:       ptr(int64(500)),
		Thumbnail:   &Upload{Filename: "c.png", ContentType: "image/png", Body: strings.NewReader("png")},
		PDF:         &Upload{Filename: "b.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.True(t, strings.HasPrefix(b.ContentRef, "/uploads/pdfs/"))
	assert.True(t, strings.HasPrefix(b.ThumbnailRef, "/uploads/thumbnails/"))

	obj, err := disk.Resolve(ctx, b.ContentRef, false)
	require.NoError(t, err)
	obj.Body.Close()

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Price)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	pdf := func() *Upload {
		return &Upload{ContentType: "application/pdf", Body: strings.NewReader("%PDF")}
	}
	thumb := func(ct string) *Upload { return &Upload{ContentType: ct, Body: strings.NewReader("img")} }

	cases := map[string]Input{
		"missing price":  {Title: ptr("T"), Description: ptr("D"), Thumbnail: thumb("image/png"), PDF: pdf()},
		"negative price": {Title: ptr("T"), Description: ptr("D"), Price: ptr(int64(-1)), Thumbnail: thumb("image/png"), PDF: pdf()},
		"long title":     {Title: ptr(strings.Repeat("x", 201)), Description: ptr("D"), Price: ptr(int64(1)), Thumbnail: thumb("image/png"), PDF: pdf()},
		"gif thumbnail":  {Title: ptr("T"), Description: ptr("D"), Price: ptr(int64(1)), Thumbnail: thumb("image/gif"), PDF: pdf()},
		"no files":       {Title: ptr("T"), Description: ptr("D"), Price: ptr(int64(1))},
		"pdf not pdf": {Title: ptr("T"), Description: ptr("D"), Price: ptr(int64(1)), Thumbnail: thumb("image/png"),
			PDF: &Upload{ContentType: "text/plain", Body: strings.NewReader("x")}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, in)
			assert.ErrorIs(t, err, apperr.Validation)
		})
	}
	assert.Empty(t, st.books)
}

func TestUpdateReplacesFiles(t *testing.T) {
	ctx := context.Background()
	svc, _, disk := newTestService(t)
	b, err := svc.Create(ctx, Input{
		Title: ptr("Old"), Description: ptr("D"), Price: ptr(int64(10)),
		Thumbnail: &Upload{ContentType: "image/jpeg", Body: strings.NewReader("j")},
		PDF:       &Upload{ContentType: "application/pdf", Body: strings.NewReader("v1")},
	})
	require.NoError(t, err)
	oldPDF := b.ContentRef

	u, err := svc.Update(ctx, b.ID, Input{Title: ptr("New"), PDF: &Upload{ContentType: "application/pdf", Body: strings.NewReader("v2")}})
	require.NoError(t, err)
	assert.Equal(t, "New", u.Title)
	assert.Equal(t, "D", u.Description)
	assert.NotEqual(t, oldPDF, u.ContentRef)
	assert.Equal(t, b.ThumbnailRef, u.ThumbnailRef)

	_, err = disk.Resolve(ctx, oldPDF, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Update(ctx, "missing", Input{Title: ptr("x")})
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestDeleteRemovesFiles(t *testing.T) {
	ctx := context.Background()
	svc, _, disk := newTestService(t)
	b, err := svc.Create(ctx, Input{
		Title: ptr("T"), Description: ptr("D"), Price: ptr(int64(10)),
		Thumbnail: &Upload{ContentType: "image/webp", Body: strings.NewReader("w")},
		PDF:       &Upload{ContentType: "application/pdf", Body: strings.NewReader("p")},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, b.ID))
	_, err = disk.Resolve(ctx, b.ContentRef, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, b.ID), apperr.NotFound)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+field+`.bin"`)
		hdr.Set("Content-Type", f[0])
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandlerNeverExposesContentRef(t *testing.T) {
	svc, _, disk := newTestService(t)
	h := NewHandler(svc, disk, zap.NewNop().Sugar())

	body, ct := multipartBody(t,
		map[string]string{"title": "Secret Book", "description": "desc", "price": "500"},
		map[string][2]string{"thumbnail": {"image/png", "png"}, "pdf": {"application/pdf", "%PDF-1.7"}},
	)
	req := httptest.NewRequest(http.MethodPost, "/items", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "/uploads/pdfs")

	var created struct {
		Book map[string]any `json:"book"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Book["id"].(string)
	assert.NotContains(t, created.Book, "contentRef")
	assert.True(t, strings.HasPrefix(created.Book["thumbnailUrl"].(string), "/files/thumbnails/"))

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/uploads/pdfs")
	assert.Contains(t, rec.Body.String(), "Secret Book")

	req = httptest.NewRequest(http.MethodGet, "/items/"+id, nil)
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	h.Get(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/uploads/pdfs")

	name := strings.TrimPrefix(created.Book["thumbnailUrl"].(string), "/files/thumbnails/")
	req = httptest.NewRequest(http.MethodGet, "/files/thumbnails/"+name, nil)
	req.SetPathValue("name", name)
	rec = httptest.NewRecorder()
	h.Thumbnail(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png", rec.Body.String())
}

func TestHandlerCreateRejectsBadInput(t *testing.T) {
	svc, _, disk := newTestService(t)
	h := NewHandler(svc, disk, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t,
		map[string]string{"title": "T", "description": "d", "price": "abc"},
		map[string][2]string{"thumbnail": {"image/png", "png"}, "pdf": {"application/pdf", "%PDF"}},
	)
	req = httptest.NewRequest(http.MethodPost, "/items", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/items/nope", nil)
	req.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	h.Get(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Book not found"}`, rec.Body.String())
}
