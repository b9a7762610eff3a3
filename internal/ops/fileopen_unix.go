//go:build !windows

package ops

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// openFileNoFollow opens a file for writing with O_NOFOLLOW so a symlink
// planted at the final component cannot redirect the write. O_CLOEXEC
// keeps the fd from leaking across exec.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, keyerrors.NewInvalidQuery("cannot write to symlink")
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// openFileNoFollowRead opens a file for reading with the same symlink
// protection on the final component.
func openFileNoFollowRead(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, keyerrors.NewInvalidQuery("cannot read from symlink")
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, keyerrors.NewInvalidQuery(fmt.Sprintf("file not found: %s", path))
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
