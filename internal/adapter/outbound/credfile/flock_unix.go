//go:build !windows

package credfile

import "syscall"

// flockLock acquires an exclusive lock on the tenant's lock file.
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
