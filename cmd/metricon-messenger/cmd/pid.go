package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// pidFilePath returns the PID file location. METRICON_PID_FILE overrides
// the default under the user's home directory.
func pidFilePath() string {
	if p := os.Getenv("METRICON_PID_FILE"); p != "" {
		return p
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".metricon", "server.pid")
	}
	return filepath.Join(os.TempDir(), "metricon-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
