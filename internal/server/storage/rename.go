package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dmitrijs2005/vdrive/internal/common"
)

// renameChecked is the portable no-replace rename: stat, then rename.
// It is racy against other processes writing into the storage root.
func renameChecked(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("%w: %s already exists", common.ErrPathConflict, newPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %w", common.ErrIO, newPath, err)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: rename %s: %w", common.ErrNotFound, oldPath, err)
		}
		return fmt.Errorf("%w: rename %s -> %s: %w", common.ErrIO, oldPath, newPath, err)
	}
	return nil
}
