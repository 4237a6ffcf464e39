// Package storage provides StorageAdapter implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/image-compressor/core"
	apperrors "github.com/Skryldev/image-compressor/errors"
)

// Local reads sources from and writes outputs to the local filesystem.
// Keys are paths; relative keys resolve against rootDir when it is set.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter.  Unlike most stores it never
// creates directories: a missing destination directory is the caller's
// problem and surfaces as DestinationUnavailable.
func NewLocal(dir string, perm os.FileMode) *Local {
	if perm == 0 {
		perm = 0o644
	}
	return &Local{rootDir: dir, permissions: perm}
}

func (l *Local) absPath(key string) string {
	if l.rootDir == "" || filepath.IsAbs(key) {
		return filepath.Clean(key)
	}
	return filepath.Join(l.rootDir, filepath.Clean(key))
}

// Put writes r to key through a temporary sibling file that is renamed into
// place, so a failed write never leaves a partial output behind.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put", err)
	}

	path := l.absPath(key)
	dir := filepath.Dir(path)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.stat", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.open", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.copy", err)
	}
	if err = f.Close(); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.close", err)
	}
	if err = os.Chmod(tmp, l.permissions); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.chmod", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryDestinationUnavailable, "local.put.rename", err)
	}
	return nil
}

// Get opens key for reading.  A missing file is reported as CorruptInput
// since the source cannot be decoded.
func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "local.get", err)
	}
	f, err := os.Open(l.absPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryCorruptInput, "local.get", fmt.Errorf("file not found: %s", key))
		}
		return nil, apperrors.Wrap(apperrors.CategoryCorruptInput, "local.get.open", err)
	}
	return f, nil
}

var _ core.StorageAdapter = (*Local)(nil)
