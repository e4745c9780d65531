//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// gracefulSignals returns the signals that trigger shutdown. Only
// os.Interrupt is delivered on Windows.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive opens a handle to proc and checks its exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// stillActive is the STILL_ACTIVE exit code of a running process.
const stillActive = 259

// sendGracefulStop terminates proc with TerminateProcess. Windows has no
// SIGTERM, so the server skips its graceful shutdown.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
