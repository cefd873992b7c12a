package storage

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

// LocalStore keeps blobs as plain files under a root directory. It is built
// on afero so production runs against the OS filesystem while tests run
// against an in-memory one.
type LocalStore struct {
	fs   afero.Fs
	root string
}

// NewLocalStore returns a store rooted at dir on the OS filesystem.
func NewLocalStore(dir string) *LocalStore {
	return NewLocalStoreWithFs(afero.NewOsFs(), dir)
}

// NewLocalStoreWithFs returns a store rooted at dir on the given filesystem.
func NewLocalStoreWithFs(fs afero.Fs, dir string) *LocalStore {
	return &LocalStore{fs: fs, root: dir}
}

func (s *LocalStore) path(key string) string {
	return path.Join(s.root, key)
}

// Put writes the reader's bytes to the key's file, creating parent
// directories as needed. The content type is not persisted; the metadata
// record carries it.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(key)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = s.fs.Remove(p) // do not leave a truncated blob behind
		return err
	}
	return f.Close()
}

// Get opens the key's file and returns it with its exact size.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	p := s.path(key)
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Delete removes the key's file. Absent keys are ignored.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
