package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	debugFile *os.File
	debugOnce sync.Once
	logsDir   string
	mu        sync.RWMutex
	writeMu   sync.Mutex
)

// ConfigureDebug sets the directory for debug logs
func ConfigureDebug(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logsDir = dir
}

// Debug writes a message to the debug log in the configured directory.
// Nothing is written until ConfigureDebug has been called.
func Debug(format string, args ...any) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	mu.RLock()
	dir := logsDir
	mu.RUnlock()

	if dir == "" {
		return
	}

	debugOnce.Do(func() {
		_ = os.MkdirAll(dir, 0o755)
		debugFile, _ = os.Create(filepath.Join(dir, fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))))
	})

	if debugFile != nil {
		writeMu.Lock()
		fmt.Fprintf(debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
		writeMu.Unlock()
	}
}

// CleanupLogs keeps the newest keep debug logs in dir and deletes the rest.
// Log names embed their creation time, so name order is age order.
func CleanupLogs(dir string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var logs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "debug-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		logs = append(logs, name)
	}
	if len(logs) <= keep {
		return 0, nil
	}

	sort.Strings(logs)
	removed := 0
	for _, name := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
