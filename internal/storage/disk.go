package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// refPrefix starts every ref the disk backend hands out.
const refPrefix = "/uploads/"

// Disk keeps objects under a local directory, one sub-directory per kind.
type Disk struct {
	root string
}

func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &Disk{root: abs}, nil
}

func (d *Disk) Put(ctx context.Context, kind, name, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := cleanRel(path.Join(kind, name))
	if err != nil {
		return "", err
	}
	full := filepath.Join(d.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return refPrefix + rel, nil
}

func (d *Disk) Resolve(ctx context.Context, ref string, download bool) (*Object, error) {
	if IsRemote(ref) {
		return redirect(ref, download)
	}
	full, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Object{Body: f, Size: st.Size(), ContentType: contentTypeByExt(full)}, nil
}

func (d *Disk) Delete(ctx context.Context, ref string) error {
	if ref == "" || IsRemote(ref) {
		return nil
	}
	full, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// Open resolves a file name inside one kind directory, used for public
// thumbnail serving.
func (d *Disk) Open(kind, name string) (*Object, error) {
	if strings.ContainsAny(name, `/\`) {
		return nil, ErrNotFound
	}
	return d.Resolve(context.Background(), refPrefix+kind+"/"+name, false)
}

func (d *Disk) path(ref string) (string, error) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", ErrNotFound
	}
	rel, err := cleanRel(strings.TrimPrefix(ref, refPrefix))
	if err != nil {
		return "", ErrNotFound
	}
	return filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

// cleanRel rejects names that would escape the storage root.
func cleanRel(p string) (string, error) {
	c := path.Clean("/" + p)[1:]
	if c == "" || c != p {
		return "", fmt.Errorf("storage: invalid object name %q", p)
	}
	return c, nil
}

func contentTypeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
