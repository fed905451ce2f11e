package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arlowright/oddcrawl/pkg/failure"
)

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	// Remove the leading dot
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	assetsDir := filepath.Join(targetPath...)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// WriteFileAtomic writes data to path by first writing a sibling temp file in
// the same directory, then renaming it into place. The rename is atomic on
// POSIX filesystems, so readers never observe a partially-written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) failure.ClassifiedError {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseWriteError,
		}
	}
	return nil
}
