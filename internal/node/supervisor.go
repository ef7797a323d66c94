package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/nodekeeper/internal/process"
)

// ProcessName is the default name of the supervised node.
const ProcessName = "shinkai-node"

// Runner launches and reaps the node process. *process.Manager is the
// production implementation.
type Runner interface {
	Spawn(env map[string]string, args []string) error
	Kill() error
	IsRunning() bool
	LastNLogs(n int) []process.LogEntry
}

// statsRunner is implemented by runners that can report PID and uptime.
type statsRunner interface {
	Stats() process.Stats
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds supervisor settings. Zero durations and an empty HealthPath
// fall back to the Default* constants.
type Config struct {
	Name               string
	DefaultStoragePath string

	HealthPath           string
	HealthTimeout        time.Duration
	HealthRequestTimeout time.Duration
	PollInterval         time.Duration

	// HTTPClient is used for health probes. Per-request timeouts come from
	// the request context, so the client should not set its own Timeout.
	HTTPClient *http.Client
}

// State is the supervisor's view of the node lifecycle.
type State int

const (
	StateStopped State = iota
	StateSpawning
	StateWaitingReady
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateSpawning:
		return "spawning"
	case StateWaitingReady:
		return "waiting_ready"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time report of the supervised node.
type Status struct {
	Name          string  `json:"name"`
	State         State   `json:"state"`
	Running       bool    `json:"running"`
	BaseURL       string  `json:"base_url,omitempty"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds,omitempty"`
	ReadyAfterMS  int64   `json:"ready_after_ms,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	Options       Options `json:"options"`
}

// Supervisor owns the node options and orchestrates spawn, readiness and
// storage reset on top of a Runner.
//
// Spawn, Kill and RemoveStorage are serialised. Option reads and writes
// are safe from any goroutine.
type Supervisor struct {
	cfg    Config
	runner Runner
	client *http.Client
	logger Logger

	opMu sync.Mutex

	mu         sync.RWMutex
	options    Options
	state      State
	readyAfter time.Duration
	lastError  string
	handlers   []EventHandler
}

// New creates a supervisor whose options start from
// DefaultOptions(cfg.DefaultStoragePath).
func New(cfg Config, runner Runner) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = ProcessName
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.HealthRequestTimeout <= 0 {
		cfg.HealthRequestTimeout = DefaultHealthRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Supervisor{
		cfg:     cfg,
		runner:  runner,
		client:  client,
		logger:  noopLogger{},
		options: DefaultOptions(cfg.DefaultStoragePath),
		state:   StateStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Name returns the supervised process name.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// SetOptions merges opts into the current options field by field and
// returns the result. Unset fields of opts keep their current value.
func (s *Supervisor) SetOptions(opts Options) Options {
	s.mu.Lock()
	s.options = s.options.Merge(opts)
	current := s.options.Clone()
	s.mu.Unlock()

	s.logger.Info("node options updated", "fields", len(opts.Env()))
	s.emit(Event{Type: EventOptionsChanged, Details: map[string]any{"reset": false}})
	return current
}

// SetDefaultOptions discards all custom options and returns the defaults
// derived from the configured default storage path.
func (s *Supervisor) SetDefaultOptions() Options {
	s.mu.Lock()
	s.options = DefaultOptions(s.cfg.DefaultStoragePath)
	current := s.options.Clone()
	s.mu.Unlock()

	s.logger.Info("node options reset to defaults", "storage_path", s.cfg.DefaultStoragePath)
	s.emit(Event{Type: EventOptionsChanged, Details: map[string]any{"reset": true}})
	return current
}

// Options returns a copy of the current options.
func (s *Supervisor) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options.Clone()
}

// Spawn starts the node with the current options and blocks until its
// health endpoint answers 200. If readiness is not reached the process is
// killed before the error is returned, so a failed Spawn never leaves a
// running node behind. Cancelling ctx aborts the wait the same way.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	opts := s.Options()
	baseURL, err := opts.BaseURL()
	if err != nil {
		return err
	}

	if s.runner.IsRunning() {
		return fmt.Errorf("%s: %w", s.cfg.Name, process.ErrAlreadyRunning)
	}

	s.setState(StateSpawning)
	s.emit(Event{Type: EventSpawning, Details: map[string]any{"base_url": baseURL}})
	s.logger.Info("spawning node", "name", s.cfg.Name, "base_url", baseURL)

	if err := s.runner.Spawn(opts.Env(), nil); err != nil {
		err = fmt.Errorf("spawning %s: %w", s.cfg.Name, err)
		s.fail(err)
		s.logger.Error("node spawn failed", "name", s.cfg.Name, "error", err)
		s.emit(Event{Type: EventSpawnFailed, Error: err.Error()})
		return err
	}

	s.setState(StateWaitingReady)
	elapsed, err := s.waitForReady(ctx, baseURL)
	if err != nil {
		s.logger.Warn("node not ready, killing",
			"name", s.cfg.Name,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		if kerr := s.runner.Kill(); kerr != nil {
			s.logger.Error("killing unready node", "name", s.cfg.Name, "error", kerr)
		}
		s.fail(err)
		s.emit(Event{Type: EventReadyTimeout, Elapsed: elapsed, Error: err.Error()})
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.readyAfter = elapsed
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Info("node ready", "name", s.cfg.Name, "elapsed_ms", elapsed.Milliseconds())
	s.emit(Event{Type: EventReady, Elapsed: elapsed, Details: map[string]any{"base_url": baseURL}})
	return nil
}

// Kill stops the node. It is a no-op when nothing is running.
func (s *Supervisor) Kill() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	wasRunning := s.runner.IsRunning()
	if err := s.runner.Kill(); err != nil {
		return fmt.Errorf("killing %s: %w", s.cfg.Name, err)
	}
	s.setState(StateStopped)

	if wasRunning {
		s.logger.Info("node killed", "name", s.cfg.Name)
		s.emit(Event{Type: EventKilled})
	}
	return nil
}

// IsRunning reports whether the node process is alive.
func (s *Supervisor) IsRunning() bool {
	return s.runner.IsRunning()
}

// LastNLogs returns up to n of the node's most recent output lines.
func (s *Supervisor) LastNLogs(n int) []process.LogEntry {
	return s.runner.LastNLogs(n)
}

// Status reports the current node state.
func (s *Supervisor) Status() Status {
	running := s.runner.IsRunning()

	s.mu.RLock()
	st := Status{
		Name:      s.cfg.Name,
		State:     s.state,
		Running:   running,
		LastError: s.lastError,
		Options:   s.options.Clone(),
	}
	if s.state == StateRunning {
		st.ReadyAfterMS = s.readyAfter.Milliseconds()
	}
	s.mu.RUnlock()

	// The process may have exited on its own since it became ready
	if st.State == StateRunning && !running {
		st.State = StateStopped
	}
	if u, err := st.Options.BaseURL(); err == nil {
		st.BaseURL = u
	}
	if sr, ok := s.runner.(statsRunner); ok && running {
		stats := sr.Stats()
		st.PID = stats.PID
		st.UptimeSeconds = int64(stats.Uptime.Seconds())
	}
	return st
}

// HandleProcessEvent folds a runner lifecycle event into the supervisor
// state and forwards it to the event handlers.
func (s *Supervisor) HandleProcessEvent(pe process.Event) {
	ev := Event{
		Type: EventType(pe.Type),
		Time: pe.Time,
		Details: map[string]any{
			"pid": pe.PID,
		},
	}

	switch pe.Type {
	case process.EventReady:
		ev.Details["line"] = pe.Line
	case process.EventExited:
		ev.Details["exit_code"] = pe.ExitCode
		ev.Details["requested"] = pe.Requested
		if pe.Err != nil {
			ev.Error = pe.Err.Error()
		}
		if !s.runner.IsRunning() {
			s.mu.Lock()
			if s.state == StateRunning {
				s.state = StateStopped
			}
			if !pe.Requested && pe.Err != nil {
				s.lastError = pe.Err.Error()
			}
			s.mu.Unlock()
		}
		if !pe.Requested {
			s.logger.Warn("node exited", "name", s.cfg.Name, "exit_code", pe.ExitCode, "error", pe.Err)
		}
	}

	s.emit(ev)
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// fail records err and returns the supervisor to StateStopped.
func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.state = StateStopped
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}
