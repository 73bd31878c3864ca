//go:build unix

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock on f, blocking until it is
// free. The returned func releases it.
func lockFile(f *os.File) (func(), error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	return func() { unix.Flock(int(f.Fd()), unix.LOCK_UN) }, nil
}
