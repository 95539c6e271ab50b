package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPermUserGroupRX = 0o750
	filePermUserRW     = 0o600
)

var (
	// ErrEmptyOutputPath is returned when no output path is given.
	ErrEmptyOutputPath = errors.New("output path cannot be empty")
	// ErrFileExists is returned when the output exists and force is not set.
	ErrFileExists = errors.New("file already exists")
)

// TryWriteFile writes data to output, creating missing parent directories.
// An existing file is only overwritten when force is set.
func TryWriteFile(data []byte, output string, force bool) error {
	if output == "" {
		return ErrEmptyOutputPath
	}

	output = filepath.Clean(output)

	if !force {
		_, err := os.Stat(output)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, output)
		}

		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check file %s: %w", output, err)
		}
	}

	dir := filepath.Dir(output)

	err := os.MkdirAll(dir, dirPermUserGroupRX)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	err = os.WriteFile(output, data, filePermUserRW)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", output, err)
	}

	return nil
}
