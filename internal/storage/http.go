package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP stores objects on a remote object store that accepts authenticated
// PUT/DELETE and serves public GETs. Refs are absolute URLs. Local
// /uploads refs written before the switch are served from legacy when set.
type HTTP struct {
	base   *url.URL
	token  string
	client *http.Client
	legacy *Disk
}

func NewHTTP(baseURL, token string, timeout time.Duration) (*HTTP, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("storage: STORAGE_HTTP_BASE_URL is required for the http backend")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("storage: invalid base url %q", baseURL)
	}
	return &HTTP{base: u, token: token, client: &http.Client{Timeout: timeout}}, nil
}

// WithLegacy keeps refs handed out by an earlier disk backend readable.
func (h *HTTP) WithLegacy(d *Disk) *HTTP {
	h.legacy = d
	return h
}

func (h *HTTP) Put(ctx context.Context, kind, name, contentType string, r io.Reader) (string, error) {
	rel, err := cleanRel(kind + "/" + name)
	if err != nil {
		return "", err
	}
	target := h.base.JoinPath(strings.Split(rel, "/")...).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, r)
	if err != nil {
		return "", fmt.Errorf("storage: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	h.authorize(req)
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: put: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("storage: put %s: status %d", rel, resp.StatusCode)
	}
	return target, nil
}

func (h *HTTP) Resolve(ctx context.Context, ref string, download bool) (*Object, error) {
	if IsRemote(ref) {
		return redirect(ref, download)
	}
	if h.legacy == nil {
		return nil, ErrNotFound
	}
	return h.legacy.Resolve(ctx, ref, download)
}

// Open serves public thumbnails still held by the legacy disk.
func (h *HTTP) Open(kind, name string) (*Object, error) {
	if h.legacy == nil {
		return nil, ErrNotFound
	}
	return h.legacy.Open(kind, name)
}

func (h *HTTP) Delete(ctx context.Context, ref string) error {
	if !IsRemote(ref) {
		if h.legacy == nil {
			return nil
		}
		return h.legacy.Delete(ctx, ref)
	}
	if !strings.HasPrefix(ref, h.base.String()+"/") {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ref, nil)
	if err != nil {
		return fmt.Errorf("storage: build request: %w", err)
	}
	h.authorize(req)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage: delete: status %d", resp.StatusCode)
	}
	return nil
}

func (h *HTTP) authorize(req *http.Request) {
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
}
