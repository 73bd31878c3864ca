package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotatingFile is an append-only log file that is gzipped aside and
// reopened once a write would push it past maxSize. At most maxBackups
// rotations are kept.
type rotatingFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	f          *os.File
	size       int64
	now        func() time.Time
}

func openRotatingFile(dir string, maxSize int64, maxBackups int) (*rotatingFile, error) {
	// Neither the directory nor the file may be a symlink
	if isSymlink(dir) {
		return nil, fmt.Errorf("log directory %s is a symlink", dir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, LogFileName)
	if isSymlink(path) {
		return nil, fmt.Errorf("log file %s is a symlink", path)
	}

	if maxSize <= 0 {
		maxSize = DefaultLogMaxFileSize
	}
	if maxBackups <= 0 {
		maxBackups = DefaultLogMaxBackups
	}
	r := &rotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups, now: time.Now}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would not fit.
func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// rotate compresses the current file to <path>.<stamp>.gz and starts a
// new one. Callers hold r.mu.
func (r *rotatingFile) rotate() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}
	r.f = nil

	stamp := r.now().UTC().Format("20060102-150405.000")
	if err := gzipFile(r.path, r.path+"."+stamp+".gz"); err != nil {
		// Keep the data even if it cannot be compressed
		if rerr := os.Rename(r.path, r.path+"."+stamp); rerr != nil {
			return fmt.Errorf("failed to rotate log file: %w", rerr)
		}
	} else if err := os.Remove(r.path); err != nil {
		return fmt.Errorf("failed to remove rotated log file: %w", err)
	}

	r.prune()
	return r.open()
}

// prune removes the oldest rotations beyond maxBackups. The timestamp in
// the name sorts chronologically.
func (r *rotatingFile) prune() {
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil || len(matches) <= r.maxBackups {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-r.maxBackups] {
		os.Remove(old)
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// isSymlink reports whether path exists and is a symbolic link.
func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}
