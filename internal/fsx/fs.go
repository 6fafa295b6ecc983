// Package fsx provides the filesystem abstraction every Metis service is
// built on: an [FS] interface for file operations, a [Real] implementation
// backed by the os package, an [AtomicWriter] for crash-safe writes, and a
// [Locker] for cross-process coordination via flock.
//
// Services never call the os package directly. This keeps every write on
// the temp-file-then-rename path required by spec.md §5 and lets tests
// substitute an in-memory or fault-injecting FS.
package fsx

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// Satisfied by [os.File]; works with bufio, io, and encoding/json exactly
// as the stdlib os.File does.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor, usable with syscalls such as flock.
	Fd() uintptr

	// Stat returns file info. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the file's mode. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS defines the filesystem operations Metis services need.
//
// Paths use OS semantics, not the slash-separated io/fs convention.
// Implementations must be safe for concurrent use.
type FS interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	Exists(path string) (bool, error)
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
}

// Real implements FS using the real filesystem. All methods are pure
// passthroughs to the os package, except Exists which wraps os.Stat.
type Real struct{}

// NewReal returns a new Real filesystem.
func NewReal() *Real { return &Real{} }

func (r *Real) Open(path string) (File, error) { return os.Open(path) }

func (r *Real) Create(path string) (File, error) { return os.Create(path) }

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (r *Real) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (r *Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (r *Real) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

// Exists reports whether path exists. Returns (false, nil) if not found,
// (false, err) for other stat errors.
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) Remove(path string) error { return os.Remove(path) }

func (r *Real) RemoveAll(path string) error { return os.RemoveAll(path) }

func (r *Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

var _ FS = (*Real)(nil)
var _ File = (*os.File)(nil)
