//go:build linux

package storage

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"golang.org/x/sys/unix"
)

// renameNoReplace renames oldPath to newPath and fails if newPath exists.
// The check and the rename are one syscall, so there is no window for a
// concurrent writer to slip in.
func renameNoReplace(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		// filesystem without RENAME_NOREPLACE support (some network mounts)
		return renameChecked(oldPath, newPath)
	}
	return classifyRename(oldPath, newPath, err)
}

func classifyRename(oldPath, newPath string, err error) error {
	switch {
	case errors.Is(err, unix.EEXIST), errors.Is(err, unix.ENOTEMPTY):
		return fmt.Errorf("%w: %s already exists", common.ErrPathConflict, newPath)
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: rename %s: %w", common.ErrNotFound, oldPath, err)
	}
	return fmt.Errorf("%w: rename %s -> %s: %w", common.ErrIO, oldPath, newPath, err)
}
