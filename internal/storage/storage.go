// Package storage keeps uploaded thumbnails and PDFs behind a small Backend
// interface so the local disk can be swapped for an HTTP object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrNotFound is returned by Resolve when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Object is a resolved reference: either a readable body or a URL the client
// should be redirected to.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	RedirectURL string
}

// Backend stores blobs and resolves the refs it hands out.
type Backend interface {
	// Put stores r under kind/name and returns an opaque ref.
	Put(ctx context.Context, kind, name, contentType string, r io.Reader) (string, error)
	// Resolve turns ref into an Object. download asks remote stores for an
	// attachment disposition.
	Resolve(ctx context.Context, ref string, download bool) (*Object, error)
	// Delete removes ref; a missing object is not an error.
	Delete(ctx context.Context, ref string) error
}

type Config struct {
	Backend string
	Dir     string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ConfigFromEnv reads STORAGE_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Backend: strings.ToLower(os.Getenv("STORAGE_BACKEND")),
		Dir:     os.Getenv("STORAGE_DIR"),
		BaseURL: os.Getenv("STORAGE_HTTP_BASE_URL"),
		Token:   os.Getenv("STORAGE_HTTP_TOKEN"),
		Timeout: 30 * time.Second,
	}
	if cfg.Backend == "" {
		cfg.Backend = "disk"
	}
	if cfg.Dir == "" {
		cfg.Dir = "uploads"
	}
	if raw := os.Getenv("STORAGE_HTTP_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	return cfg
}

// New builds the backend named by cfg.Backend.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "disk":
		return NewDisk(cfg.Dir)
	case "http":
		h, err := NewHTTP(cfg.BaseURL, cfg.Token, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		legacy, err := NewDisk(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return h.WithLegacy(legacy), nil
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}

// IsRemote reports refs that point at an absolute http(s) URL.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// redirect builds a redirect Object for a remote ref, adding download=1 when
// an attachment is requested.
func redirect(ref string, download bool) (*Object, error) {
	if !download {
		return &Object{RedirectURL: ref}, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("storage: parse ref: %w", err)
	}
	q := u.Query()
	q.Set("download", "1")
	u.RawQuery = q.Encode()
	return &Object{RedirectURL: u.String()}, nil
}
