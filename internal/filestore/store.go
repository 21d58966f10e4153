// Package filestore keeps uploaded audio on local disk for the duration of a
// single transcription run.
package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Handle points at one stored upload.
type Handle struct {
	Path        string
	Name        string // generated file name inside the store directory
	Filename    string // name supplied by the client
	ContentType string
	Size        int64
}

// Open returns a reader over the stored bytes.
func (h *Handle) Open() (*os.File, error) {
	return os.Open(h.Path)
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes src to a uniquely named file and returns its handle.
func (s *Store) Save(ctx context.Context, src io.Reader, filename, contentType string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := uuid.NewString() + extension(filename)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload file: %w", err)
	}

	return &Handle{
		Path:        path,
		Name:        name,
		Filename:    filename,
		ContentType: contentType,
		Size:        n,
	}, nil
}

// Release deletes the file behind h. Releasing an already removed file, or a
// nil handle, succeeds.
func (s *Store) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload file: %w", err)
	}
	return nil
}

// With saves src, hands the handle to fn and releases it afterwards, whatever
// fn returns and even if it panics.
func (s *Store) With(ctx context.Context, src io.Reader, filename, contentType string, fn func(*Handle) error) error {
	h, err := s.Save(ctx, src, filename, contentType)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Release(h); err != nil {
			slog.Error("failed to release upload", "path", h.Path, "error", err)
		}
	}()
	return fn(h)
}

// extension keeps a short, safe suffix from the client's file name.
func extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
