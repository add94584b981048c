//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive, non-blocking advisory lock on f, the
// same golang.org/x/sys/unix syscall-access pattern the teacher's
// per-OS files (autoattach_windows.go, util_windows.go) use on the
// Windows side for syscalls with no portable stdlib wrapper; flock is
// the Unix-side counterpart for this module's flash-file stand-in.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
