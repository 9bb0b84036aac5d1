package media

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskStore keeps media as plain files under a single directory.
type DiskStore struct {
	dir string
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

// Put writes body to a temporary file and renames it into place, so a
// partially written upload is never visible under its locator.
func (s *DiskStore) Put(ctx context.Context, locator, _ string, body io.Reader, _ int64) error {
	if !ValidLocator(locator) {
		return ErrInvalidLocator
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, locator))
}

// Locate returns the file path for locator.
func (s *DiskStore) Locate(_ context.Context, locator string) (Location, error) {
	if !ValidLocator(locator) {
		return Location{}, ErrInvalidLocator
	}
	p := filepath.Join(s.dir, locator)
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.IsDir()) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, err
	}
	return Location{Path: p}, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
