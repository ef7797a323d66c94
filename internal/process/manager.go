package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults applied by NewManager for zero-valued Config fields.
const (
	DefaultLogBufferSize   = 1000
	DefaultGracefulTimeout = 5 * time.Second
	DefaultWaitDelay       = time.Second
	DefaultEventBufferSize = 64
)

// maxLineSize bounds a single captured output line.
const maxLineSize = 256 * 1024

// ErrAlreadyRunning is returned by Spawn while a previous process is alive.
var ErrAlreadyRunning = errors.New("process already running")

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments always passed to the binary.
	// Arguments given to Spawn are appended after these.
	Args []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// ReadyPattern, when set, is matched against every output line.
	// The first match of a run emits EventReady.
	ReadyPattern *regexp.Regexp

	// LogBufferSize is how many recent output lines are retained.
	LogBufferSize int

	// GracefulTimeout is how long to wait for graceful shutdown before SIGKILL.
	GracefulTimeout time.Duration

	// WaitDelay bounds how long output is drained after the process has
	// exited. Descendants that escaped the process group can hold stdout
	// or stderr open indefinitely; their output is cut off after this.
	WaitDelay time.Duration

	// EventBufferSize is the capacity of the Events channel.
	EventBufferSize int
}

// EventType identifies a process lifecycle event.
type EventType string

const (
	EventStarted EventType = "process_started"
	EventReady   EventType = "process_ready"
	EventExited  EventType = "process_exited"
)

// Event is a lifecycle notification for one run of the process.
type Event struct {
	Type EventType `json:"type"`
	Name string    `json:"name"`
	PID  int       `json:"pid"`
	Time time.Time `json:"time"`

	// Line is the matching output line for EventReady.
	Line string `json:"line,omitempty"`

	// ExitCode and Err describe an EventExited. ExitCode is -1 when the
	// process was terminated by a signal.
	ExitCode  int    `json:"exit_code,omitempty"`
	Err       error  `json:"-"`
	Requested bool   `json:"requested,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager manages the lifecycle of a single subprocess.
type Manager struct {
	config Config
	logger Logger
	logs   *logBuffer
	events chan Event

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	spawnCount    int
	lastError     error
	startTime     time.Time
	stopRequested bool
	readySeen     bool
	done          chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = DefaultLogBufferSize
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		logs:   newLogBuffer(cfg.LogBufferSize),
		events: make(chan Event, cfg.EventBufferSize),
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Events returns the lifecycle event stream. The channel is never closed.
// Events are dropped when nobody drains it.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Spawn launches the subprocess with env layered over the parent
// environment and args appended to Config.Args. It returns once the
// process has started; it does not wait for readiness.
func (m *Manager) Spawn(env map[string]string, args []string) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", m.config.Name, ErrAlreadyRunning)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.readySeen = false
	m.mu.Unlock()

	cmd, out, err := m.startProcess(env, args)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.cmd = cmd
	m.done = done
	m.status = StatusRunning
	m.startTime = time.Now()
	m.spawnCount++
	m.lastError = nil
	m.mu.Unlock()

	pid := cmd.Process.Pid
	m.logger.Info("process started", "name", m.config.Name, "pid", pid)
	m.emit(Event{Type: EventStarted, PID: pid})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.captureOutput("stdout", out.stdout, pid)
	}()
	go func() {
		defer wg.Done()
		m.captureOutput("stderr", out.stderr, pid)
	}()

	go m.wait(cmd, out, &wg, done)

	return nil
}

// outputPipes carries the child's stdout and stderr to the capture
// goroutines. The child writes through exec's own copy goroutines, so
// cmd.Wait returns once the process has exited, at most WaitDelay later.
type outputPipes struct {
	stdout, stderr   *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
}

// close ends both streams; the capture goroutines see EOF.
func (p *outputPipes) close() {
	p.stdoutW.Close()
	p.stderrW.Close()
}

// startProcess builds and starts the command.
func (m *Manager) startProcess(env map[string]string, args []string) (*exec.Cmd, *outputPipes, error) {
	argv := make([]string, 0, len(m.config.Args)+len(args))
	argv = append(argv, m.config.Args...)
	argv = append(argv, args...)

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", argv,
		"env_vars", len(env),
	)

	cmd := exec.Command(m.config.Binary, argv...) //nolint:gosec // Binary path comes from validated configuration

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.WaitDelay = m.config.WaitDelay

	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	out := &outputPipes{}
	out.stdout, out.stdoutW = io.Pipe()
	out.stderr, out.stderrW = io.Pipe()
	cmd.Stdout = out.stdoutW
	cmd.Stderr = out.stderrW

	if err := cmd.Start(); err != nil {
		out.close()
		return nil, nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}
	return cmd, out, nil
}

// mergeEnv returns base with the entries of overlay appended in key order.
// Later entries win when the child resolves duplicates.
func mergeEnv(base []string, overlay map[string]string) []string {
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

// captureOutput records each line of r in the log buffer and watches for
// the ready pattern.
func (m *Manager) captureOutput(stream string, r io.Reader, pid int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		m.logs.add(LogEntry{Timestamp: time.Now(), Stream: stream, Line: line})
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"output", line,
		)

		if m.config.ReadyPattern != nil && m.config.ReadyPattern.MatchString(line) && m.markReady() {
			m.logger.Info("process reported ready", "name", m.config.Name, "line", line)
			m.emit(Event{Type: EventReady, PID: pid, Line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		m.logger.Debug("output stream closed",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
	}

	// Keep draining so the writer side never blocks on an abandoned scanner
	_, _ = io.Copy(io.Discard, r)
}

// markReady reports whether this is the first ready match of the run.
func (m *Manager) markReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readySeen {
		return false
	}
	m.readySeen = true
	return true
}

// wait reaps the process, then closes its output streams and waits for
// the capture goroutines. The run ends when the process exits, not when
// every holder of its stdout/stderr has let go.
func (m *Manager) wait(cmd *exec.Cmd, out *outputPipes, output *sync.WaitGroup, done chan struct{}) {
	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		m.logger.Warn("process output still held open after exit, dropping it",
			"name", m.config.Name,
			"wait_delay", m.config.WaitDelay,
		)
		err = nil
	}
	out.close()
	output.Wait()

	m.mu.Lock()
	requested := m.stopRequested
	if requested || err == nil {
		m.status = StatusStopped
	} else {
		m.status = StatusFailed
	}
	if !requested {
		m.lastError = err
	}
	m.mu.Unlock()
	close(done)

	ev := Event{
		Type:      EventExited,
		PID:       cmd.Process.Pid,
		ExitCode:  cmd.ProcessState.ExitCode(),
		Err:       err,
		Requested: requested,
	}
	if err != nil {
		ev.Message = err.Error()
	}

	switch {
	case requested:
		m.logger.Info("process stopped as requested", "name", m.config.Name)
	case err != nil:
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
	default:
		m.logger.Info("process exited", "name", m.config.Name)
	}
	m.emit(ev)
}

// emit delivers ev without blocking.
func (m *Manager) emit(ev Event) {
	ev.Name = m.config.Name
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("event dropped, channel full", "name", m.config.Name, "type", ev.Type)
	}
}

// Kill stops the subprocess. It sends SIGTERM to the process group and
// escalates to SIGKILL after GracefulTimeout. Kill blocks until the
// process has been reaped, which takes at most WaitDelay after it died.
// It is a no-op when nothing is running.
func (m *Manager) Kill() error {
	m.mu.Lock()
	if m.status != StatusRunning {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	// Negative PID signals the whole process group created via Setpgid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
		}
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-timer.C:
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
		}
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)
	return nil
}

// LastNLogs returns up to n of the most recent output lines, oldest first.
func (m *Manager) LastNLogs(n int) []LogEntry {
	return m.logs.lastN(n)
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == StatusRunning
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	PID        int           `json:"pid,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
	SpawnCount int           `json:"spawn_count"`
	LastError  string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:       m.config.Name,
		Status:     m.status,
		SpawnCount: m.spawnCount,
	}

	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
