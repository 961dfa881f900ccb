package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseFile is the default database file name inside the data directory.
const DatabaseFile = "ruleloop.db"

// DefaultDataPath returns the path to the default data directory.
// On Unix: ~/.ruleloop
// On Windows: %USERPROFILE%\.ruleloop
func DefaultDataPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ruleloop"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// dataGitignore is the default .gitignore content for data directories.
const dataGitignore = `# SQLite database files
ruleloop.db
ruleloop.db-shm
ruleloop.db-wal

# Logs
*.log
`

// EnsureGitignore creates a .gitignore in the given data directory if one
// does not already exist, so database files are never committed.
func EnsureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(dataGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
