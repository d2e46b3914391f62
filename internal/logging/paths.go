package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the recall home directory (default ~/.recall).
const HomeEnv = "RECALL_HOME"

// DefaultLogDir returns the default log directory (~/.recall/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".recall", "logs")
	}
	return filepath.Join(home, ".recall", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "recall.log")
}

// FindLogFile resolves the log file to view.
// An explicit path wins; otherwise the default path must exist.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no log file found, run a command with --debug first.\nExpected at: %s", path)
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
