package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "kadtable"

// GetKadtableDir returns the directory holding settings, token and port files.
func GetKadtableDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, appName)
	case "darwin": // MacOS
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", appName)
	default: // Linux
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName)
	}
}

// Returns directory for state files (census history database, lock)
func GetStateDir() string {
	if runtime.GOOS == "linux" {
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
	}
	return filepath.Join(GetKadtableDir(), "state")
}

// Returns directory for logs
func GetLogsDir() string {
	return filepath.Join(GetStateDir(), "logs")
}

func GetDBPath() string {
	return filepath.Join(GetStateDir(), "census.db")
}

// EnsureDirs creates all required directories
func EnsureDirs() error {
	dirs := []string{GetKadtableDir(), GetStateDir(), GetLogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
