package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/windows"
)

const mutexName = "Local\\RestdeskShellMutex"

// acquireSingleInstance creates a named mutex. The path argument is unused on
// Windows; the mutex name is per session.
func acquireSingleInstance(_ string) (release func(), err error) {
	namePtr, err := windows.UTF16PtrFromString(mutexName)
	if err != nil {
		return nil, fmt.Errorf("failed to convert mutex name %q to UTF16: %w", mutexName, err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil {
		if handle != 0 {
			windows.CloseHandle(handle)
		}
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("CreateMutex failed: %w", err)
	}

	slog.Info("Acquired single instance mutex", "name", mutexName)
	return func() { windows.CloseHandle(handle) }, nil
}
