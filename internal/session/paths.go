package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the ~/.ccai root, mostly for tests and multiple
// installs on one account.
const HomeEnv = "CCAI_HOME"

// Files inside a session directory.
const (
	socketFile = "daemon.sock"
	lockFile   = "LOCK"
	dbFile     = "ccai.db"
	envFile    = ".env"
	logDir     = "logs"
	logFile    = "ccaid.log"
)

// BaseDir returns $CCAI_HOME, or ~/.ccai when it is unset.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ccai")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

func file(name string, elem ...string) string {
	return filepath.Join(append([]string{Dir(name)}, elem...)...)
}

// SocketPath returns the Unix socket the daemon serves its API on.
func SocketPath(name string) string { return file(name, socketFile) }

// LockPath returns the file flocked by the running daemon.
func LockPath(name string) string { return file(name, lockFile) }

// DBPath returns the session's ccai.db, which holds the failed-send journal.
func DBPath(name string) string { return file(name, dbFile) }

// EnvPath returns the optional per-session .env file.
func EnvPath(name string) string { return file(name, envFile) }

// LogDir returns the log directory for a session.
func LogDir(name string) string { return file(name, logDir) }

// LogPath returns the daemon log file path.
func LogPath(name string) string { return file(name, logDir, logFile) }

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory and its log directory, readable
// only by the owner.
func EnsureDir(name string) error {
	if err := os.MkdirAll(LogDir(name), 0700); err != nil {
		return err
	}
	// MkdirAll leaves an existing directory's mode alone.
	return os.Chmod(Dir(name), 0700)
}
