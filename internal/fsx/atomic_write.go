package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced
// after rename. When returned, the new file is in place but durability is
// not guaranteed.
var ErrAtomicWriteDirSync = errors.New("fsx: dir sync")

// AtomicWriter writes files atomically using write-temp-then-rename, the
// mechanism spec.md §5 relies on to guarantee "no cancellation during a
// write - partial writes are avoided."
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter backed by fs.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fsx: fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// AtomicWriteOptions configures Write.
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is fsynced after
	// rename. Default true.
	SyncDir bool

	// Perm is the file's permission bits. Must be non-zero.
	Perm os.FileMode
}

// DefaultOptions returns the default write options: sync the parent
// directory, mode 0o644.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{SyncDir: true, Perm: 0o644}
}

// WriteBytes atomically writes data to path using DefaultOptions.
func (w *AtomicWriter) WriteBytes(path string, data []byte) error {
	return w.Write(path, &byteReader{data: data}, w.DefaultOptions())
}

// Write writes data from r to path atomically and durably: it writes to a
// temp file in the same directory, syncs it, renames it over path, then
// (if opts.SyncDir) syncs the parent directory.
//
// If the directory-sync step fails, the returned error satisfies
// errors.Is(err, ErrAtomicWriteDirSync); the rename itself already
// succeeded and the new content is visible.
func (w *AtomicWriter) Write(path string, r io.Reader, opts AtomicWriteOptions) error {
	if r == nil {
		panic("fsx: reader is nil")
	}

	if path == "" {
		return errors.New("fsx: path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("fsx: opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("fsx: invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createAtomicTempFile(w.fs, dir, base, opts.Perm)
	if err != nil {
		return err
	}

	cleanup := func() error {
		closeErr := closeNamed(tmpPath, tmpFile)
		removeErr := removeIfExists(w.fs, tmpPath)

		return errors.Join(closeErr, removeErr)
	}

	if err := tmpFile.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("fsx: chmod temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := writeAndSync(tmpFile, tmpPath, r); err != nil {
		return errors.Join(err, cleanup())
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("fsx: rename: %w", err), cleanup())
	}

	cleanupErr := cleanup()

	if opts.SyncDir {
		if err := fsyncDir(w.fs, dir); err != nil {
			return errors.Join(err, cleanupErr)
		}
	}

	return nil
}

type byteReader struct {
	data []byte
	off  int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.off >= len(b.data) {
		return 0, io.EOF
	}

	n := copy(p, b.data[b.off:])
	b.off += n

	return n, nil
}

func writeAndSync(file File, path string, r io.Reader) error {
	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("fsx: write temp file %q: %w", path, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("fsx: sync temp file %q: %w", path, err)
	}

	return nil
}

const atomicWriteMaxAttempts = 10000

var atomicWriteCounter atomic.Uint64

func createAtomicTempFile(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range atomicWriteMaxAttempts {
		seq := atomicWriteCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("fsx: create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("fsx: exhausted temp file attempts in %q", dir)
}

func fsyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("fsx: open dir %q: %w", dirPath, err))
	}

	if err := dirFd.Sync(); err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("fsx: %q: %w", dirPath, err), closeNamed(dirPath, dirFd))
	}

	return closeNamed(dirPath, dirFd)
}

func closeNamed(path string, file File) error {
	if err := file.Close(); err != nil {
		return fmt.Errorf("fsx: close %q: %w", path, err)
	}

	return nil
}

func removeIfExists(fs FS, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsx: remove temp file %q: %w", path, err)
	}

	return nil
}
