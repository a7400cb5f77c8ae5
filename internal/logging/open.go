package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// OpenLogDirectory opens the log directory in the platform file manager.
func OpenLogDirectory() error {
	dir := Dir()
	if dir == "" {
		return errors.New("log directory not initialized")
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "darwin":
		cmd = exec.Command("open", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}

	slog.Debug("opening log directory", "dir", dir, "command", cmd.String())
	// Start, not Run: file managers may stay in the foreground.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open log directory '%s': %w", dir, err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
