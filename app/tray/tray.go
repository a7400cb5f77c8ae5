// Package tray is the desktop application shell. It runs the system tray
// event loop and reports menu actions through commontray.Callbacks.
package tray

import (
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
	"github.com/ncruces/zenity"

	"github.com/restdesk/shell/app/tray/commontray"
	"github.com/restdesk/shell/version"
)

type systrayShell struct {
	callbacks commontray.Callbacks

	mu       sync.Mutex
	ready    bool
	status   string
	errored  bool
	mStatus  *systray.MenuItem
	mRestart *systray.MenuItem
	mLogs    *systray.MenuItem
	mQuit    *systray.MenuItem
	quitOnce sync.Once
}

// NewShell returns the system tray shell. Nothing is shown until Run.
func NewShell() (commontray.Shell, error) {
	return &systrayShell{
		callbacks: commontray.NewCallbacks(),
		status:    "Initializing...",
	}, nil
}

func (s *systrayShell) GetCallbacks() commontray.Callbacks {
	return s.callbacks
}

// Run blocks on the tray event loop. It must be called from the main goroutine.
func (s *systrayShell) Run() {
	slog.Debug("starting tray event loop")
	systray.Run(s.onReady, s.onExit)
}

func (s *systrayShell) Quit() {
	s.quitOnce.Do(systray.Quit)
}

func (s *systrayShell) onReady() {
	systray.SetTitle(commontray.Title)

	s.mu.Lock()
	s.mStatus = systray.AddMenuItem(statusMenuPrefix+s.status, "Current backend status")
	s.mStatus.Disable()
	systray.AddSeparator()
	s.mRestart = systray.AddMenuItem(restartMenuTitle, restartMenuTooltip)
	s.mLogs = systray.AddMenuItem(logsMenuTitle, logsMenuTooltip)
	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem(quitMenuTitle, quitMenuTooltip)
	s.ready = true
	s.applyLocked()
	s.mu.Unlock()

	go s.handleMenuEvents()
}

func (s *systrayShell) onExit() {
	slog.Debug("tray event loop finished")
}

func (s *systrayShell) handleMenuEvents() {
	for {
		select {
		case <-s.mRestart.ClickedCh:
			notify(s.callbacks.RestartBackend)
		case <-s.mLogs.ClickedCh:
			notify(s.callbacks.ShowLogs)
		case <-s.mQuit.ClickedCh:
			slog.Info("Quit requested via menu")
			notify(s.callbacks.Quit)
			return
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
		// a request of this kind is already pending
	}
}

func (s *systrayShell) DisplayFirstUseNotification() error {
	return zenity.Notify(firstTimeMessage, zenity.Title(firstTimeTitle), zenity.InfoIcon)
}

func (s *systrayShell) ChangeStatusText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = text
	s.applyLocked()
	return nil
}

func (s *systrayShell) SetRunning() error {
	return s.setErrored(false)
}

func (s *systrayShell) SetStopped() error {
	return s.setErrored(false)
}

func (s *systrayShell) SetError() error {
	return s.setErrored(true)
}

func (s *systrayShell) setErrored(errored bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = errored
	s.applyLocked()
	return nil
}

// applyLocked pushes the current state into the tray. Before onReady the
// state is only recorded.
func (s *systrayShell) applyLocked() {
	if !s.ready {
		return
	}
	if s.errored {
		systray.SetIcon(errorIconData)
	} else {
		systray.SetIcon(iconData)
	}
	systray.SetTooltip(commontray.Tooltip + " " + version.Version + ": " + s.status)
	s.mStatus.SetTitle(statusMenuPrefix + s.status)
}
