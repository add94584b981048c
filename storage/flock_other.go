//go:build !linux

package storage

import "os"

// lockFile is a no-op outside Linux; the flash-file stand-in is a
// development convenience, not a production flash driver, and only the
// Linux build is expected to run concurrent rmkctl instances.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
