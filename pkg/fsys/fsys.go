// Package fsys holds the filesystem primitives the backup engine is built on.
// Every implementation is backed by a go-billy filesystem: the host through
// osfs, tests through memfs.
package fsys

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
)

// FS is the set of filesystem operations the engine, store, hasher and
// manifest need. Mkdir creates a single directory level and reports
// fs.ErrExist or fs.ErrNotExist (missing parent) the way os.Mkdir does.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	ReadDir(path string) ([]os.DirEntry, error)
	Mkdir(path string) error
	// Copy writes the bytes of src to dst, truncating dst. Everything read
	// from src is also written to tee when it is not nil.
	Copy(src, dst string, tee io.Writer) (int64, error)
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Chtimes(path string, atime, mtime time.Time) error
}

// Billy implements FS on a go-billy filesystem.
type Billy struct {
	fs   billy.Filesystem
	host bool
	// memfs is not safe for concurrent use; nil for the host
	mu *sync.Mutex
}

// NewBilly wraps filesystem. Paths are used as given.
func NewBilly(filesystem billy.Filesystem) *Billy {
	return &Billy{fs: filesystem}
}

// NewOS returns the host filesystem. Relative paths are resolved against
// the working directory.
func NewOS() *Billy {
	return &Billy{fs: osfs.New("/"), host: true}
}

// NewMemory returns an empty in-memory filesystem.
func NewMemory() *Billy {
	return &Billy{fs: memfs.New(), mu: &sync.Mutex{}}
}

// Raw returns the underlying go-billy filesystem.
func (b *Billy) Raw() billy.Filesystem {
	return b.fs
}

func (b *Billy) lock() func() {
	if b.mu == nil {
		return func() {}
	}
	b.mu.Lock()
	return b.mu.Unlock
}

func (b *Billy) path(p string) string {
	if b.host && !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
	}
	return p
}

func (b *Billy) Stat(path string) (os.FileInfo, error) {
	defer b.lock()()
	return b.fs.Stat(b.path(path))
}

func (b *Billy) Open(path string) (io.ReadCloser, error) {
	defer b.lock()()
	return b.fs.Open(b.path(path))
}

// Create opens path for writing, truncating it. Closing the returned writer
// syncs it first when the underlying file supports that.
func (b *Billy) Create(path string) (io.WriteCloser, error) {
	defer b.lock()()
	f, err := b.fs.OpenFile(b.path(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return syncedFile{f}, nil
}

func (b *Billy) ReadDir(path string) ([]os.DirEntry, error) {
	defer b.lock()()
	infos, err := b.fs.ReadDir(b.path(path))
	if err != nil {
		return nil, err
	}
	entries := make([]os.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, fs.FileInfoToDirEntry(info))
	}
	return entries, nil
}

// Mkdir creates path with mode 0755. billy only offers MkdirAll, so the
// single level semantics are checked here.
func (b *Billy) Mkdir(path string) error {
	defer b.lock()()
	path = b.path(path)

	if _, err := b.fs.Stat(path); err == nil {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	parent := filepath.Dir(path)
	if parent != path && parent != filepath.Dir(parent) {
		info, err := b.fs.Stat(parent)
		if err != nil {
			return &fs.PathError{Op: "mkdir", Path: path, Err: err}
		}
		if !info.IsDir() {
			return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrInvalid}
		}
	}
	return b.fs.MkdirAll(path, 0755)
}

func (b *Billy) Copy(src, dst string, tee io.Writer) (written int64, err error) {
	defer b.lock()()

	in, err := b.fs.Open(b.path(src))
	if err != nil {
		return 0, err
	}
	defer in.Close()

	f, err := b.fs.OpenFile(b.path(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	out := syncedFile{f}

	var r io.Reader = in
	if tee != nil {
		r = io.TeeReader(in, tee)
	}
	written, err = io.Copy(out, r)
	if err != nil {
		out.File.Close()
		return written, err
	}
	return written, out.Close()
}

func (b *Billy) Rename(oldpath, newpath string) error {
	defer b.lock()()
	return b.fs.Rename(b.path(oldpath), b.path(newpath))
}

func (b *Billy) Remove(path string) error {
	defer b.lock()()
	return b.fs.Remove(b.path(path))
}

func (b *Billy) Chtimes(path string, atime, mtime time.Time) error {
	defer b.lock()()
	if change, ok := b.fs.(billy.Change); ok {
		return change.Chtimes(b.path(path), atime, mtime)
	}
	// the chroot wrapper around osfs does not expose billy.Change
	if b.host {
		return os.Chtimes(b.path(path), atime, mtime)
	}
	return fmt.Errorf("chtimes %s: %w", path, billy.ErrNotSupported)
}

type syncedFile struct {
	billy.File
}

func (f syncedFile) Close() error {
	if s, ok := f.File.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			f.File.Close()
			return err
		}
	}
	return f.File.Close()
}
