//go:build windows

package ops

import (
	"fmt"
	"os"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// openFileNoFollow opens a file for writing, rejecting symlinks at the
// final component. Windows has no O_NOFOLLOW; an Lstat probe before the
// open covers the common case, and ValidatePath already rejected
// symlinked parents.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, keyerrors.NewInvalidQuery("cannot write to symlink")
	}
	return os.OpenFile(path, flag, perm)
}

// openFileNoFollowRead opens a file for reading with the same probe.
func openFileNoFollowRead(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, keyerrors.NewInvalidQuery(fmt.Sprintf("file not found: %s", path))
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, keyerrors.NewInvalidQuery("cannot read from symlink")
	}
	return os.Open(path)
}
