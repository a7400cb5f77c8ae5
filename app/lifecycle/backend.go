package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	ErrBackendMissing       = errors.New("backend executable not found")
	ErrBackendNotExecutable = errors.New("backend is not an executable file")
	ErrBackendRunning       = errors.New("backend is already running")
	ErrBackendNotRunning    = errors.New("backend is not running")
)

const (
	readyPollInterval = 250 * time.Millisecond
	readyDialTimeout  = time.Second
	killGracePeriod   = 5 * time.Second
	stalePollInterval = 100 * time.Millisecond

	// Output still held open by a grandchild is abandoned this long after
	// the backend itself exits.
	outputWaitDelay = 2 * time.Second
	// Longer lines are logged in pieces.
	maxOutputLine = 64 * 1024
)

// Backend runs the companion executable. The process is started without
// arguments and in its own process group; its output is copied into the log
// unless OutputFile is set.
type Backend struct {
	path string

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	stopping bool

	// OnExit, when set, is called after the backend exits without Stop
	// having been requested.
	OnExit func(err error)

	// OutputFile, when set, receives the backend's stdout and stderr
	// directly instead of the shell's log. Use it when the backend may
	// outlive the shell.
	OutputFile string
}

func NewBackend(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Path() string {
	return b.path
}

// PID returns the pid of the running backend, or 0.
func (b *Backend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

func (b *Backend) Running() bool {
	return b.PID() != 0
}

// Done returns a channel closed when the current process exits, or nil when
// nothing is running.
func (b *Backend) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return nil
	}
	return b.done
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBackendMissing, path)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect backend %s: %w", path, err)
	}
	if !isExecutable(fi) {
		return fmt.Errorf("%w: %s", ErrBackendNotExecutable, path)
	}
	return nil
}

// Start spawns the backend. It returns once the process exists; it does not
// wait for the backend to become ready.
func (b *Backend) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkExecutable(b.path); err != nil {
		return err
	}

	b.mu.Lock()
	if b.cmd != nil {
		b.mu.Unlock()
		return ErrBackendRunning
	}

	// Not CommandContext: the backend must outlive the start request.
	cmd := exec.Command(b.path)
	cmd.Dir = filepath.Dir(b.path)
	configureDetached(cmd)

	cmd.WaitDelay = outputWaitDelay
	var stdout, stderr *outputLogger
	if b.OutputFile != "" {
		out, err := os.OpenFile(b.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("failed to open backend output file: %w", err)
		}
		// the child keeps its own copy of the descriptor
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	} else {
		stdout = &outputLogger{stream: "stdout"}
		stderr = &outputLogger{stream: "stderr"}
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to start backend %s: %w", b.path, err)
	}

	done := make(chan struct{})
	b.cmd = cmd
	b.done = done
	b.stopping = false
	b.mu.Unlock()

	slog.Info("Backend process started", "path", b.path, "pid", cmd.Process.Pid)

	go b.wait(cmd, done, stdout, stderr)
	return nil
}

func (b *Backend) wait(cmd *exec.Cmd, done chan struct{}, loggers ...*outputLogger) {
	waitErr := cmd.Wait()
	for _, l := range loggers {
		if l != nil {
			l.Flush()
		}
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		slog.Warn("Backend output still open after exit, abandoned it", "pid", cmd.Process.Pid)
		waitErr = nil
	}

	b.mu.Lock()
	stopping := b.stopping
	b.cmd = nil
	b.done = nil
	onExit := b.OnExit
	b.mu.Unlock()
	close(done)

	if stopping {
		slog.Info("Backend process exited after stop request", "pid", cmd.Process.Pid)
		return
	}
	if waitErr != nil {
		slog.Error("Backend process exited unexpectedly", "pid", cmd.Process.Pid, "error", waitErr)
	} else {
		slog.Warn("Backend process exited", "pid", cmd.Process.Pid)
	}
	if onExit != nil {
		onExit(waitErr)
	}
}

// outputLogger logs each line of backend output as it arrives. Write never
// blocks on the log and never fails.
type outputLogger struct {
	stream string

	mu  sync.Mutex
	buf []byte
}

func (l *outputLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			l.buf = append(l.buf, p...)
			if len(l.buf) >= maxOutputLine {
				l.flushLocked()
			}
			break
		}
		l.buf = append(l.buf, p[:i]...)
		l.flushLocked()
		p = p[i+1:]
	}
	return n, nil
}

// Flush logs a trailing line that had no newline.
func (l *outputLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *outputLogger) flushLocked() {
	if len(l.buf) == 0 {
		return
	}
	slog.Info(strings.TrimSuffix(string(l.buf), "\r"), "stream", l.stream)
	l.buf = l.buf[:0]
}

// Stop asks the backend to exit and waits for it. When ctx expires first the
// process group is killed.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	cmd, done := b.cmd, b.done
	if cmd == nil {
		b.mu.Unlock()
		return ErrBackendNotRunning
	}
	b.stopping = true
	b.mu.Unlock()

	pid := cmd.Process.Pid
	slog.Info("Stopping backend", "pid", pid)
	if err := interruptProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("Failed to interrupt backend", "pid", pid, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	slog.Warn("Backend did not exit in time, killing it", "pid", pid)
	if err := killProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill backend: %w", err)
	}
	select {
	case <-done:
	case <-time.After(killGracePeriod):
		return fmt.Errorf("backend pid %d still running after kill", pid)
	}
	return fmt.Errorf("backend killed after stop timeout: %w", ctx.Err())
}

// Restart stops the backend if it is running and starts it again.
func (b *Backend) Restart(ctx context.Context) error {
	if err := b.Stop(ctx); err != nil && !errors.Is(err, ErrBackendNotRunning) {
		slog.Warn("Stop before restart failed", "error", err)
	}
	return b.Start(context.WithoutCancel(ctx))
}

// WaitReady polls addr until it accepts a TCP connection. It fails early
// with ErrBackendNotRunning if the process exits first.
func (b *Backend) WaitReady(ctx context.Context, addr string) error {
	done := b.Done()
	if done == nil {
		return ErrBackendNotRunning
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	dialer := net.Dialer{Timeout: readyDialTimeout}

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			slog.Info("Backend is accepting connections", "address", addr)
			return nil
		}
		slog.Debug("Backend not ready yet", "address", addr, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("backend at %s not ready: %w", addr, ctx.Err())
		case <-done:
			return ErrBackendNotRunning
		case <-ticker.C:
		}
	}
}

// stopStale stops a backend left running by an earlier session. It acts only
// when pid is still running the executable at path, and reports whether it
// found such a process.
func stopStale(ctx context.Context, path string, pid int) (bool, error) {
	if !isBackendProcess(pid, path) {
		return false, nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	defer p.Release()

	slog.Info("Stopping backend left by a previous session", "pid", pid)
	if err := interruptProcess(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return true, fmt.Errorf("failed to interrupt stale backend: %w", err)
	}

	ticker := time.NewTicker(stalePollInterval)
	defer ticker.Stop()
	for isBackendProcess(pid, path) {
		select {
		case <-ctx.Done():
			if err := killProcess(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return true, fmt.Errorf("failed to kill stale backend: %w", err)
			}
			return true, nil
		case <-ticker.C:
		}
	}
	return true, nil
}

func isBackendProcess(pid int, path string) bool {
	if pid <= 0 {
		return false
	}
	exe, err := processPath(pid)
	if err != nil {
		return false
	}
	return samePath(exe, path)
}

func samePath(a, b string) bool {
	if resolved, err := filepath.EvalSymlinks(b); err == nil {
		b = resolved
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
