package storage

import (
	"os"
	"path/filepath"
)

// appendLine appends data plus a trailing newline to path, creating the
// parent directory and the file if needed (dangerous_breadcrumbs and
// telemetry are both append-only, one JSON record per line).
func appendLine(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
