package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appDir = "rulesync"

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the directory log and statistics files go to:
// /var/log/rulesync when writable on Linux, ~/.rulesync otherwise, and a
// temp directory as the last resort. The directory is created if missing.
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = determineLogDir()
		if err := os.MkdirAll(logDir, 0755); err != nil {
			logDir = filepath.Join(os.TempDir(), appDir)
			_ = os.MkdirAll(logDir, 0755)
		}
	})
	return logDir
}

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		dir := filepath.Join("/var/log", appDir)
		if writable(dir) {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, "."+appDir)
		if err := os.MkdirAll(dir, 0755); err == nil {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appDir)
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".write_test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return true
}

func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), "rulesync.log")
}

// GetAppliedFilePath is the default rule-applied statistics dump.
func GetAppliedFilePath() string {
	return filepath.Join(GetLogDir(), "applied")
}
