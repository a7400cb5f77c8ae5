// Package lifecycle starts the companion backend and then hands control to
// the tray shell. Startup is strictly ordered: resolve the backend path,
// spawn it, and only then create and run the shell. Either of the first two
// failing aborts the program before any UI exists.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/restdesk/shell/app/store"
	"github.com/restdesk/shell/app/tray"
	"github.com/restdesk/shell/app/tray/commontray"
	"github.com/restdesk/shell/internal/config"
	"github.com/restdesk/shell/internal/logging"
	"github.com/restdesk/shell/version"
)

type AppState int

const (
	StateStopped AppState = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

var ErrAlreadyRunning = errors.New("another instance is already running")

var (
	currentState AppState = StateStopped
	stateMu      sync.Mutex
	t            commontray.Shell
	backend      *Backend

	// serializes restarts with each other and with shutdown
	restartMu    sync.Mutex
	restarts     int
	shuttingDown bool
)

func (s AppState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting..."
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping..."
	case StateError:
		return "Backend unavailable"
	default:
		return "Unknown"
	}
}

// deps is everything run needs from the outside world.
type deps struct {
	cfg              config.AppConfig
	resolveCompanion func() (string, error)
	newShell         func() (commontray.Shell, error)
	showLogs         func() error
	signals          <-chan os.Signal
}

func Run() {
	cfg, cfgErr := config.Load(ConfigFile)
	if cfgErr != nil {
		cfg = config.Defaults
	}

	InitLogging(cfg)
	slog.Info(AppName+" starting", "version", version.Version, "data_dir", AppDataDir)
	if cfgErr != nil {
		Fatal("Configuration error", cfgErr)
		return
	}

	release, err := acquireSingleInstance(LockFile)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		slog.Info("Another instance of " + AppName + " is already running. Exiting")
		logging.Close()
		return
	case err != nil:
		slog.Warn("Failed to check single instance, continuing", "error", err)
	default:
		defer release()
	}

	store.SetPath(StoreFile)
	slog.Info("Using data directory", "install_id", store.GetID(), "path", AppDataDir)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	err = run(context.Background(), deps{
		cfg:              cfg,
		resolveCompanion: ResolveCompanion,
		newShell:         tray.NewShell,
		showLogs:         logging.OpenLogDirectory,
		signals:          signals,
	})
	if err != nil {
		Fatal("Failed to start "+AppName, err)
		return
	}

	slog.Info(AppName + " exiting")
	logging.Close()
}

// InitLogging sends slog output to the rotating application log. If the log
// file cannot be set up, output stays on stderr.
func InitLogging(cfg config.AppConfig) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	err = logging.Init(logging.Options{
		Path:       AppLogFile,
		Level:      level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    os.Getenv(config.EnvPrefix+"_LOG_CONSOLE") != "",
	})
	if err != nil {
		slog.Error(fmt.Sprintf("failed to create log %v", err))
	}
}

func run(ctx context.Context, d deps) error {
	// Cancelled on return so no restart fires after shutdown.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	path, err := d.resolveCompanion()
	if err != nil {
		return err
	}
	slog.Info("Starting backend at", "path", path)

	b := NewBackend(path)
	if prev := store.GetBackendPID(); prev != 0 {
		stopStalePrevious(ctx, d.cfg, b.Path(), prev)
	}

	b.OnExit = func(exitErr error) { handleBackendExit(ctx, d.cfg, exitErr) }
	if !d.cfg.Backend.StopOnExit {
		// A pipe to us would break once we exit.
		b.OutputFile = filepath.Join(filepath.Dir(AppLogFile), "backend.log")
		if err := os.MkdirAll(filepath.Dir(b.OutputFile), 0o755); err != nil {
			slog.Warn("failed to create backend log dir", "error", err)
		}
	}
	stateMu.Lock()
	backend = b
	stateMu.Unlock()
	restartMu.Lock()
	restarts = 0
	shuttingDown = false
	restartMu.Unlock()

	SetState(StateStarting)
	if err := b.Start(ctx); err != nil {
		SetState(StateError)
		return fmt.Errorf("failed to start backend: %w", err)
	}
	store.SetBackendPID(b.PID())

	shell, err := d.newShell()
	if err != nil {
		stopBackend(d.cfg)
		return fmt.Errorf("failed to create tray: %w", err)
	}
	stateMu.Lock()
	t = shell
	state := currentState
	stateMu.Unlock()
	SetState(state)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		callbackLoop(loopCtx, d, shell)
	}()
	go func() {
		defer wg.Done()
		awaitReady(loopCtx, d.cfg, b)
	}()

	if !store.GetFirstTimeRun() {
		slog.Debug("First time run")
		if err := shell.DisplayFirstUseNotification(); err != nil {
			slog.Debug(fmt.Sprintf("failed to display first use notification %v", err))
		}
		store.SetFirstTimeRun(true)
	}

	shell.Run()

	slog.Info("Shell closed, shutting down")
	cancelLoop()
	wg.Wait()

	stateMu.Lock()
	t = nil
	stateMu.Unlock()

	if d.cfg.Backend.StopOnExit {
		stopBackend(d.cfg)
	} else {
		slog.Info("Leaving backend running", "pid", b.PID())
	}
	return nil
}

// stopStalePrevious stops a backend a previous session left running, so the
// new one can take its address.
func stopStalePrevious(ctx context.Context, cfg config.AppConfig, path string, pid int) {
	stopCtx, cancel := context.WithTimeout(ctx, cfg.Backend.StopTimeout)
	defer cancel()

	found, err := stopStale(stopCtx, path, pid)
	switch {
	case err != nil:
		slog.Warn("Failed to stop backend from previous session", "pid", pid, "error", err)
	case found:
		slog.Info("Stopped backend from previous session", "pid", pid)
	default:
		slog.Debug("Stored backend pid no longer runs the backend", "pid", pid)
	}
	store.SetBackendPID(0)
}

func callbackLoop(ctx context.Context, d deps, shell commontray.Shell) {
	callbacks := shell.GetCallbacks()
	slog.Debug("starting callback loop")
	for {
		select {
		case <-ctx.Done():
			return
		case <-callbacks.Quit:
			slog.Debug("quit called")
			shell.Quit()
		case sig := <-d.signals:
			slog.Info("shutting down due to signal", "signal", sig)
			shell.Quit()
		case <-callbacks.ShowLogs:
			if d.showLogs == nil {
				continue
			}
			if err := d.showLogs(); err != nil {
				slog.Warn("Failed to show logs", "error", err)
			}
		case <-callbacks.RestartBackend:
			slog.Info("Restarting backend on request")
			go handleRestartRequest(ctx, d.cfg)
		}
	}
}

// awaitReady moves Starting to Running once the backend accepts connections.
func awaitReady(ctx context.Context, cfg config.AppConfig, b *Backend) {
	if cfg.Backend.Address == "" || cfg.Backend.ReadyTimeout == 0 {
		if b.Running() {
			setRunning()
		}
		return
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.Backend.ReadyTimeout)
	defer cancel()

	err := b.WaitReady(readyCtx, cfg.Backend.Address)
	switch {
	case err == nil:
		setRunning()
	case errors.Is(err, ErrBackendNotRunning):
		// the exit handler owns the state
	case ctx.Err() != nil:
		// shutting down
	default:
		slog.Warn("Backend did not become ready", "address", cfg.Backend.Address, "error", err)
		SetState(StateError)
	}
}

// setRunning marks the backend running unless shutdown has begun.
func setRunning() {
	restartMu.Lock()
	defer restartMu.Unlock()
	if !shuttingDown {
		SetState(StateRunning)
	}
}

func handleBackendExit(ctx context.Context, cfg config.AppConfig, exitErr error) {
	SetState(StateError)
	if !cfg.Backend.RestartOnExit || ctx.Err() != nil {
		return
	}

	restartMu.Lock()
	if restarts >= cfg.Backend.MaxRestarts {
		restartMu.Unlock()
		slog.Error("Backend keeps exiting, giving up", "restarts", restarts, "error", exitErr)
		return
	}
	restarts++
	attempt := restarts
	restartMu.Unlock()

	slog.Info("Restarting backend after unexpected exit", "attempt", attempt, "delay", cfg.Backend.RestartDelay)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Backend.RestartDelay):
		}
		handleRestartRequest(ctx, cfg)
	}()
}

func handleRestartRequest(ctx context.Context, cfg config.AppConfig) {
	restartMu.Lock()
	defer restartMu.Unlock()

	if shuttingDown || ctx.Err() != nil {
		slog.Info("Restart request ignored, shutting down")
		return
	}
	stateMu.Lock()
	b := backend
	stateMu.Unlock()
	if b == nil {
		return
	}

	SetState(StateStarting)
	// Quit must not cut the stop short; shutdown waits for restartMu instead.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Backend.StopTimeout)
	defer cancel()
	if err := b.Restart(stopCtx); err != nil {
		slog.Error("Failed to restart backend", "error", err)
		SetState(StateError)
		return
	}
	store.SetBackendPID(b.PID())
	go awaitReady(ctx, cfg, b)
}

func stopBackend(cfg config.AppConfig) {
	// Waits for a restart in flight, and keeps later ones from starting.
	restartMu.Lock()
	shuttingDown = true
	restartMu.Unlock()

	stateMu.Lock()
	b := backend
	stateMu.Unlock()
	if b == nil {
		return
	}

	SetState(StateStopping)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.StopTimeout)
	defer cancel()

	err := b.Stop(ctx)
	switch {
	case err == nil, errors.Is(err, ErrBackendNotRunning):
		store.SetBackendPID(0)
	default:
		slog.Error("Error stopping backend", "error", err)
	}
	SetState(StateStopped)
}

func SetState(newState AppState) {
	stateMu.Lock()
	currentState = newState
	shell := t
	stateMu.Unlock()

	slog.Debug("state changed", "state", newState.String())
	if shell == nil {
		return
	}
	if err := shell.ChangeStatusText(newState.String()); err != nil {
		slog.Debug("failed to update status text", "error", err)
	}

	var err error
	switch newState {
	case StateStarting, StateRunning:
		err = shell.SetRunning()
	case StateError:
		err = shell.SetError()
	default:
		err = shell.SetStopped()
	}
	if err != nil {
		slog.Debug("failed to update tray", "state", newState.String(), "error", err)
	}
}

// State returns the current application state.
func State() AppState {
	stateMu.Lock()
	defer stateMu.Unlock()
	return currentState
}
