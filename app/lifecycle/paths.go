package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

var (
	AppName    = "Restdesk"
	AppDataDir string
	AppLogFile string
	StoreFile  string
	ConfigFile string
	LockFile   string
)

const (
	companionDir  = "backend"
	companionName = "backend"
)

var ErrExecutablePath = errors.New("cannot determine executable path")

// executable is swapped out in tests.
var executable = os.Executable

func init() {
	dir, err := os.UserConfigDir()
	if err != nil {
		slog.Warn("error discovering user config directory", "error", err)
		dir = os.TempDir()
	}
	setDataDir(filepath.Join(dir, AppName))
}

func setDataDir(dir string) {
	AppDataDir = dir
	AppLogFile = filepath.Join(dir, "logs", "app.log")
	StoreFile = filepath.Join(dir, "store.json")
	ConfigFile = filepath.Join(dir, "config.json")
	LockFile = filepath.Join(dir, "instance.lock")
}

// CompanionPath returns where the backend executable lives for a shell
// installed at exe: <dir of exe>/backend/backend[.exe].
func CompanionPath(exe string) string {
	name := companionName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), companionDir, name)
}

// ResolveCompanion locates the backend next to the running executable.
// Symlinks are resolved so a shell started through a link still finds the
// backend in its install directory.
func ResolveCompanion() (string, error) {
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutablePath, err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	} else {
		slog.Warn("could not resolve executable symlinks", "path", exe, "error", err)
	}
	// Never anchor a relative path on the working directory.
	if !filepath.IsAbs(exe) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrExecutablePath, exe)
	}
	return CompanionPath(exe), nil
}
