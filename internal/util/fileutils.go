package util

import (
	"fmt"
	"os"
)

// EnsureDir creates path and any missing parents. An existing
// non-directory at path is an error.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	return AssertDir(path)
}

func AssertDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%q is not a directory", path)
	}

	return nil
}
