package lifecycle

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ncruces/zenity"

	"github.com/restdesk/shell/internal/logging"
)

// exit is swapped out in tests.
var exit = os.Exit

// Fatal reports a startup failure on every channel available (log, stderr
// and a native dialog) and exits with status 1.
func Fatal(title string, err error) {
	slog.Error("FATAL: "+title, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", title, err)
	showErrorMessage(title, err.Error())
	if cerr := logging.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "failed to close log: %v\n", cerr)
	}
	exit(1)
}

var showErrorMessage = func(title, message string) {
	slog.Debug("Showing message box", "title", title, "message", message)
	if err := zenity.Error(message, zenity.Title(title), zenity.ErrorIcon); err != nil {
		slog.Debug("could not show error dialog", "error", err)
	}
}
