package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/restdesk/shell/app/store"
	"github.com/restdesk/shell/app/tray/commontray"
	"github.com/restdesk/shell/internal/config"
)

// Mock shell implementation for testing
type mockShell struct {
	mu         sync.Mutex
	statusText string
	errored    bool
	firstUse   int
	callbacks  commontray.Callbacks

	running  chan struct{}
	runOnce  sync.Once
	quit     chan struct{}
	quitOnce sync.Once
}

func newMockShell() *mockShell {
	return &mockShell{
		callbacks: commontray.NewCallbacks(),
		running:   make(chan struct{}),
		quit:      make(chan struct{}),
	}
}

func (m *mockShell) GetCallbacks() commontray.Callbacks { return m.callbacks }

func (m *mockShell) Run() {
	m.runOnce.Do(func() { close(m.running) })
	<-m.quit
}

func (m *mockShell) Quit() {
	m.quitOnce.Do(func() { close(m.quit) })
}

func (m *mockShell) DisplayFirstUseNotification() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firstUse++
	return nil
}

func (m *mockShell) ChangeStatusText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusText = text
	return nil
}

func (m *mockShell) SetRunning() error { return m.setErrored(false) }
func (m *mockShell) SetStopped() error { return m.setErrored(false) }
func (m *mockShell) SetError() error   { return m.setErrored(true) }

func (m *mockShell) setErrored(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errored = v
	return nil
}

func (m *mockShell) snapshot() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusText, m.errored
}

func setupMockShell() *mockShell {
	ms := newMockShell()
	stateMu.Lock()
	t = ms
	stateMu.Unlock()
	return ms
}

func resetState() {
	stateMu.Lock()
	currentState = StateStopped
	t = nil
	backend = nil
	stateMu.Unlock()
	restartMu.Lock()
	shuttingDown = false
	restartMu.Unlock()
}

func testConfig() config.AppConfig {
	cfg := config.Defaults
	cfg.Backend.Address = ""
	return cfg
}

func TestAppStateString(t *testing.T) {
	tests := []struct {
		state    AppState
		expected string
	}{
		{StateStopped, "Stopped"},
		{StateStarting, "Starting..."},
		{StateRunning, "Running"},
		{StateStopping, "Stopping..."},
		{StateError, "Backend unavailable"},
		{AppState(999), "Unknown"},
	}

	for _, test := range tests {
		result := test.state.String()
		if result != test.expected {
			t.Errorf("Expected %s for state %d, got %s", test.expected, test.state, result)
		}
	}
}

func TestSetState(testT *testing.T) {
	ms := setupMockShell()
	defer resetState()

	tests := []struct {
		state   AppState
		errored bool
	}{
		{StateStarting, false},
		{StateRunning, false},
		{StateError, true},
		{StateStopping, false},
		{StateStopped, false},
	}

	for _, test := range tests {
		SetState(test.state)

		if got := State(); got != test.state {
			testT.Errorf("Expected state %d, got %d", test.state, got)
		}
		text, errored := ms.snapshot()
		if text != test.state.String() {
			testT.Errorf("Expected status text %q, got %q", test.state.String(), text)
		}
		if errored != test.errored {
			testT.Errorf("Expected errored=%v for state %s", test.errored, test.state)
		}
	}
}

func TestSetStateWithoutShell(testT *testing.T) {
	resetState()
	defer resetState()

	SetState(StateRunning)
	if got := State(); got != StateRunning {
		testT.Errorf("Expected StateRunning without a shell, got %s", got)
	}
}

func TestConcurrentSetState(testT *testing.T) {
	setupMockShell()
	defer resetState()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetState(StateRunning)
		}()
		go func() {
			defer wg.Done()
			_ = State()
		}()
	}
	wg.Wait()
}

func TestRunAbortsWhenBackendMissing(testT *testing.T) {
	defer resetState()
	store.SetPath(filepath.Join(testT.TempDir(), "store.json"))

	exeDir := testT.TempDir()
	shellCreated := false

	err := run(context.Background(), deps{
		cfg: testConfig(),
		resolveCompanion: func() (string, error) {
			return CompanionPath(filepath.Join(exeDir, "restdesk")), nil
		},
		newShell: func() (commontray.Shell, error) {
			shellCreated = true
			return newMockShell(), nil
		},
	})

	if !errors.Is(err, ErrBackendMissing) {
		testT.Fatalf("Expected ErrBackendMissing, got %v", err)
	}
	if shellCreated {
		testT.Error("Expected shell not to be created when the backend is missing")
	}
	if State() != StateError {
		testT.Errorf("Expected StateError, got %s", State())
	}
	if store.GetBackendPID() != 0 {
		testT.Error("Expected no backend pid to be recorded")
	}
}

func TestRunAbortsWhenExecutableUnknown(testT *testing.T) {
	defer resetState()
	prev := executable
	executable = func() (string, error) { return "", errors.New("no /proc") }
	defer func() { executable = prev }()

	shellCreated := false
	err := run(context.Background(), deps{
		cfg:              testConfig(),
		resolveCompanion: ResolveCompanion,
		newShell: func() (commontray.Shell, error) {
			shellCreated = true
			return newMockShell(), nil
		},
	})

	if !errors.Is(err, ErrExecutablePath) {
		testT.Fatalf("Expected ErrExecutablePath, got %v", err)
	}
	if shellCreated {
		testT.Error("Expected shell not to be created when the executable path is unknown")
	}
}

func TestFatalExits(testT *testing.T) {
	prevExit, prevShow := exit, showErrorMessage
	defer func() { exit, showErrorMessage = prevExit, prevShow }()

	code := -1
	exit = func(c int) { code = c }
	var shown string
	showErrorMessage = func(title, message string) { shown = title + ": " + message }

	Fatal("Failed to start", ErrBackendMissing)

	if code != 1 {
		testT.Errorf("Expected exit code 1, got %d", code)
	}
	if shown != "Failed to start: "+ErrBackendMissing.Error() {
		testT.Errorf("Unexpected dialog text %q", shown)
	}
}

func TestStopStalePreviousClearsForeignPID(testT *testing.T) {
	store.SetPath(filepath.Join(testT.TempDir(), "store.json"))
	store.SetBackendPID(os.Getpid())

	path := CompanionPath(filepath.Join(testT.TempDir(), "restdesk"))
	stopStalePrevious(context.Background(), testConfig(), path, os.Getpid())

	if store.GetBackendPID() != 0 {
		testT.Errorf("Expected stored pid to be cleared, got %d", store.GetBackendPID())
	}
}
