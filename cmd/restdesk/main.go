package main

import (
	"github.com/restdesk/shell/app/lifecycle"
)

// Build with -ldflags="-H windowsgui" on Windows to avoid a console window.

func main() {
	lifecycle.Run()
}
