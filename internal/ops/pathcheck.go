package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // import reads the file
	PathCheckWrite                      // export writes the file
)

// ExportsDir returns the directory export, import, and backup files are
// confined to.
func ExportsDir(baseDir string) string {
	return filepath.Join(baseDir, "exports")
}

// ValidatePath checks an export/import path:
//  1. no ".." components,
//  2. .jsonl or .jsonl.gz extension,
//  3. the file sits DIRECTLY in the exports directory (no
//     subdirectories, which removes symlink-swap races on intermediate
//     components; O_NOFOLLOW covers the final one),
//  4. neither the parent directory nor the file is a symlink.
func ValidatePath(path string, mode PathCheckMode, baseDir string) error {
	if path == "" {
		return keyerrors.NewInvalidQuery("path is required")
	}
	if containsTraversal(path) {
		return keyerrors.NewInvalidQuery("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if !strings.HasSuffix(cleaned, ".jsonl") && !strings.HasSuffix(cleaned, ".jsonl.gz") {
		return keyerrors.NewInvalidQuery("path must have a .jsonl or .jsonl.gz extension")
	}

	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return keyerrors.NewInvalidQuery(fmt.Sprintf("invalid path: %v", err))
	}
	if err := checkConfinement(abs, baseDir); err != nil {
		return err
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return keyerrors.NewInvalidQuery(fmt.Sprintf("file not found: %s", path))
		}
	}
	return nil
}

// ValidateBackupPath applies the same confinement to backup destinations,
// which carry a .db extension and must not already exist (VACUUM INTO
// refuses to overwrite).
func ValidateBackupPath(path, baseDir string) error {
	if path == "" {
		return keyerrors.NewInvalidQuery("path is required")
	}
	if containsTraversal(path) {
		return keyerrors.NewInvalidQuery("path must not contain directory traversal (..)")
	}
	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".db" {
		return keyerrors.NewInvalidQuery("backup path must have a .db extension")
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return keyerrors.NewInvalidQuery(fmt.Sprintf("invalid path: %v", err))
	}
	if err := checkConfinement(abs, baseDir); err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err == nil {
		return keyerrors.NewInvalidQuery("backup destination already exists")
	}
	return nil
}

func checkConfinement(abs, baseDir string) error {
	allowed, err := filepath.Abs(ExportsDir(baseDir))
	if err != nil {
		return keyerrors.NewInternal(err)
	}

	parent := filepath.Dir(abs)
	if filepath.Clean(parent) != filepath.Clean(allowed) {
		return keyerrors.NewInvalidQuery(
			fmt.Sprintf("file must be directly in the exports directory: %s", allowed))
	}
	if info, err := os.Lstat(parent); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return keyerrors.NewInvalidQuery("parent directory must not be a symlink")
	}
	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return keyerrors.NewInvalidQuery("path must not be a symlink")
	}
	return nil
}

// containsTraversal checks every path component for "..".
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
