//go:build linux

package fsqueue

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace fails with EEXIST instead of clobbering dst.
func renameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		// Filesystem or kernel without RENAME_NOREPLACE.
		return linkMove(src, dst)
	}
	return err
}
