// Package storage holds the small file primitives shared by the guard state
// stores: crash-safe replacement of a file and bounded reads of state files
// that other processes may have written.
package storage

import (
	"fmt"
	"io"
	"os"
)

// MaxStateFileSize caps how much of a state file ReadLimited will load.
const MaxStateFileSize = 64 * 1024

// ReadLimited reads at most max bytes from path. It returns ErrFileTooLarge
// when the file is bigger, and the os error unchanged (so os.IsNotExist works)
// when it cannot be opened.
func ReadLimited(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only file
	}()

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}
	return data, nil
}
