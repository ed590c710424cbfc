//go:build !darwin && !linux

package storage

import (
	"errors"
	"fmt"
)

func filesystemType(string) (string, error) {
	return "", fmt.Errorf("filesystem detection: %w", errors.ErrUnsupported)
}
