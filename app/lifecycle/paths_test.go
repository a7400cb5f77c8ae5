package lifecycle

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func backendName() string {
	if runtime.GOOS == "windows" {
		return "backend.exe"
	}
	return "backend"
}

func TestCompanionPath(t *testing.T) {
	dir := t.TempDir()
	got := CompanionPath(filepath.Join(dir, "restdesk"))
	want := filepath.Join(dir, "backend", backendName())
	if got != want {
		t.Errorf("CompanionPath = %s, want %s", got, want)
	}
}

func TestResolveCompanionIgnoresWorkingDirectory(t *testing.T) {
	installDir := filepath.Join(t.TempDir(), "install")
	prev := executable
	executable = func() (string, error) { return filepath.Join(installDir, "restdesk"), nil }
	defer func() { executable = prev }()

	t.Chdir(t.TempDir())

	got, err := ResolveCompanion()
	if err != nil {
		t.Fatalf("ResolveCompanion failed: %v", err)
	}
	want := filepath.Join(installDir, "backend", backendName())
	if got != want {
		t.Errorf("ResolveCompanion = %s, want %s", got, want)
	}
}

func TestResolveCompanionExecutableError(t *testing.T) {
	prev := executable
	executable = func() (string, error) { return "", errors.New("boom") }
	defer func() { executable = prev }()

	if _, err := ResolveCompanion(); !errors.Is(err, ErrExecutablePath) {
		t.Errorf("Expected ErrExecutablePath, got %v", err)
	}
}

func TestResolveCompanionRejectsRelativePath(t *testing.T) {
	prev := executable
	executable = func() (string, error) { return "restdesk", nil }
	defer func() { executable = prev }()

	t.Chdir(t.TempDir())

	if _, err := ResolveCompanion(); !errors.Is(err, ErrExecutablePath) {
		t.Errorf("Expected ErrExecutablePath for relative executable, got %v", err)
	}
}

func TestSetDataDir(t *testing.T) {
	prev := AppDataDir
	defer setDataDir(prev)

	dir := t.TempDir()
	setDataDir(dir)

	tests := []struct {
		got, want string
	}{
		{AppLogFile, filepath.Join(dir, "logs", "app.log")},
		{StoreFile, filepath.Join(dir, "store.json")},
		{ConfigFile, filepath.Join(dir, "config.json")},
		{LockFile, filepath.Join(dir, "instance.lock")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}
