// Package common provides shared constants, types, and utilities
// used across the TravelNet connection orchestrator.
package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// NewOperationID returns a short identifier used to correlate the log
// lines of a single operation.
func NewOperationID() string {
	return uuid.NewString()[:8]
}

type operationIDKey struct{}

// WithOperationID returns a context carrying id for log correlation.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the operation ID carried by ctx, or "-".
func OperationID(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey{}).(string); ok && id != "" {
		return id
	}
	return "-"
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir ensures a private directory exists, creating it if necessary.
func EnsureDir(path string) error {
	if isSymlink(path) {
		return fmt.Errorf("security error: %s is a symlink", path)
	}
	return os.MkdirAll(path, 0700)
}

// WriteFileAtomic writes data to path via a temp file in the same
// directory followed by a rename, so readers never see a truncated file.
// The temp file is synced before the rename and removed on any error.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Redact replaces every occurrence of each secret in s.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "********")
	}
	return s
}
