//go:build windows

package credfile

import "golang.org/x/sys/windows"

// flockLock acquires an exclusive lock on the tenant's lock file using
// LockFileEx. It blocks until the lock is available.
func flockLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

func flockUnlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
