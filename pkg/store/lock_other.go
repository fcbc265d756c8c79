//go:build !unix && !windows

package store

import (
	"errors"
	"os"
)

func tryLockFile(*os.File) (bool, error) {
	return false, errors.ErrUnsupported
}

func unlockFile(*os.File) error {
	return nil
}
