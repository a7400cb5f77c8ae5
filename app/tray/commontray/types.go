package commontray

var (
	Title   = "Restdesk"
	Tooltip = "Restdesk"
)

// Callbacks carry menu actions from the shell to the lifecycle loop.
type Callbacks struct {
	Quit           chan struct{}
	ShowLogs       chan struct{}
	RestartBackend chan struct{}
}

// NewCallbacks returns buffered channels so a click never blocks the UI thread.
func NewCallbacks() Callbacks {
	return Callbacks{
		Quit:           make(chan struct{}, 1),
		ShowLogs:       make(chan struct{}, 1),
		RestartBackend: make(chan struct{}, 1),
	}
}

// Shell is the desktop application shell. Run owns the GUI event loop and
// returns once Quit has been called.
type Shell interface {
	GetCallbacks() Callbacks
	Run()
	DisplayFirstUseNotification() error
	ChangeStatusText(text string) error
	SetRunning() error
	SetStopped() error
	SetError() error
	Quit()
}
