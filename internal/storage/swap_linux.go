//go:build linux

package storage

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// exchangeDirs atomically swaps two paths with renameat2(RENAME_EXCHANGE).
// It reports false when the filesystem does not support the exchange.
func exchangeDirs(a, b string) (bool, error) {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EOPNOTSUPP):
		return false, nil
	default:
		return false, fmt.Errorf("failed to exchange %s and %s: %w", a, b, err)
	}
}
