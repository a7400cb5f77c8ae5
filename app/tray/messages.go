package tray

const (
	firstTimeTitle   = "Restdesk is running"
	firstTimeMessage = "Restdesk lives in your system tray. Use it to view logs or restart the local API service."

	statusMenuPrefix   = "Status: "
	restartMenuTitle   = "Restart backend"
	restartMenuTooltip = "Stop and start the local API service"
	logsMenuTitle      = "View logs"
	logsMenuTooltip    = "Open the log directory"
	quitMenuTitle      = "Quit Restdesk"
	quitMenuTooltip    = "Stop the local API service and exit"
)
